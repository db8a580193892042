// Package emu provides the architectural state of a RISC-V hart: the
// register file, the memory bus, the kernel boundary, and the fault
// taxonomy shared by the pipeline and the emulator driver.
package emu

import "fmt"

// FaultKind classifies execution faults.
type FaultKind uint8

// Fault kinds.
const (
	// FaultMisalignedFetch indicates a fetch from a misaligned PC.
	FaultMisalignedFetch FaultKind = iota
	// FaultMisalignedAccess indicates a data access that is not aligned
	// to its width.
	FaultMisalignedAccess
	// FaultUnmappedAccess indicates an access outside the mapped address
	// space of a bounded memory implementation.
	FaultUnmappedAccess
	// FaultBreakpoint indicates an EBREAK instruction.
	FaultBreakpoint
	// FaultCycleLimitExceeded indicates the host cycle cap elapsed.
	FaultCycleLimitExceeded
	// FaultDecodeFailed wraps an instruction decode error.
	FaultDecodeFailed
	// FaultKernelError wraps an error returned by the kernel callback.
	FaultKernelError
)

// String returns a human-readable name for the kind.
func (k FaultKind) String() string {
	switch k {
	case FaultMisalignedFetch:
		return "misaligned fetch"
	case FaultMisalignedAccess:
		return "misaligned access"
	case FaultUnmappedAccess:
		return "unmapped access"
	case FaultBreakpoint:
		return "breakpoint"
	case FaultCycleLimitExceeded:
		return "cycle limit exceeded"
	case FaultDecodeFailed:
		return "decode failed"
	case FaultKernelError:
		return "kernel error"
	default:
		return "unknown fault"
	}
}

// Fault is an unrecoverable execution fault. Faults abort the current step
// and propagate out of the run loop; there is no supervisor mode to vector
// to in an unprivileged hart.
type Fault struct {
	// Kind classifies the fault.
	Kind FaultKind
	// PC is the program counter of the offending instruction.
	PC uint64
	// Addr is the offending address, for memory faults.
	Addr uint64
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	s := fmt.Sprintf("%s at pc=0x%X", f.Kind, f.PC)
	switch f.Kind {
	case FaultMisalignedAccess, FaultUnmappedAccess:
		s += fmt.Sprintf(" addr=0x%X", f.Addr)
	}
	if f.Err != nil {
		s += ": " + f.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error {
	return f.Err
}
