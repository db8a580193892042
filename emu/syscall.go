// Package emu provides the architectural state of a RISC-V hart.
package emu

import (
	"io"

	"github.com/clabby/brisc/insts"
)

// RISC-V Linux syscall numbers.
const (
	SyscallRead  uint64 = 63 // read(fd, buf, count)
	SyscallWrite uint64 = 64 // write(fd, buf, count)
	SyscallExit  uint64 = 93 // exit(status)
)

// Linux error codes.
const (
	EBADF  = 9  // Bad file descriptor
	ENOSYS = 38 // Function not implemented
	EIO    = 5  // I/O error
)

// SyscallResult represents the result of a kernel syscall dispatch.
type SyscallResult struct {
	// Ret is the value written back to a0, unless Exited is true.
	Ret uint64

	// Exited is true if the syscall terminated the program.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode uint64
}

// Kernel is the environment-call boundary of the emulator. The pipeline
// invokes it synchronously when an ECALL reaches the memory stage, with the
// syscall number taken from a7. The kernel reads its ABI arguments from
// a0-a6, may read and write guest memory, and may terminate the program by
// returning Exited. It is the only component with host side effects.
type Kernel interface {
	Syscall(sysno uint64, regs *RegFile, mem Memory) (SyscallResult, error)
}

// LinuxKernel implements a minimal Linux-style Kernel: read(63), write(64)
// and exit(93). Unknown syscall numbers return -ENOSYS in a0.
type LinuxKernel struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// LinuxKernelOption is a functional option for configuring a LinuxKernel.
type LinuxKernelOption func(*LinuxKernel)

// WithStdin sets the reader backing guest fd 0.
func WithStdin(r io.Reader) LinuxKernelOption {
	return func(k *LinuxKernel) {
		k.stdin = r
	}
}

// WithStdout sets the writer backing guest fd 1.
func WithStdout(w io.Writer) LinuxKernelOption {
	return func(k *LinuxKernel) {
		k.stdout = w
	}
}

// WithStderr sets the writer backing guest fd 2.
func WithStderr(w io.Writer) LinuxKernelOption {
	return func(k *LinuxKernel) {
		k.stderr = w
	}
}

// NewLinuxKernel creates a LinuxKernel. Without options, guest I/O is
// discarded and reads return EOF.
func NewLinuxKernel(opts ...LinuxKernelOption) *LinuxKernel {
	k := &LinuxKernel{}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Syscall dispatches a syscall by number.
func (k *LinuxKernel) Syscall(sysno uint64, regs *RegFile, mem Memory) (SyscallResult, error) {
	switch sysno {
	case SyscallExit:
		return SyscallResult{
			Exited:   true,
			ExitCode: regs.Read(insts.RegA0),
		}, nil
	case SyscallRead:
		return k.read(regs, mem)
	case SyscallWrite:
		return k.write(regs, mem)
	default:
		return errno(ENOSYS), nil
	}
}

// read handles the read syscall (63). Only fd 0 is backed.
func (k *LinuxKernel) read(regs *RegFile, mem Memory) (SyscallResult, error) {
	fd := regs.Read(insts.RegA0)
	bufPtr := regs.Read(insts.RegA1)
	count := regs.Read(insts.RegA2)

	if fd != 0 {
		return errno(EBADF), nil
	}
	if k.stdin == nil {
		return SyscallResult{Ret: 0}, nil
	}

	buf := make([]byte, count)
	n, err := k.stdin.Read(buf)
	if err != nil && n == 0 {
		// EOF or error with no bytes read.
		return SyscallResult{Ret: 0}, nil
	}
	if err := mem.WriteRange(bufPtr, buf[:n]); err != nil {
		return SyscallResult{}, err
	}
	return SyscallResult{Ret: uint64(n)}, nil
}

// write handles the write syscall (64). Only fds 1 and 2 are backed.
func (k *LinuxKernel) write(regs *RegFile, mem Memory) (SyscallResult, error) {
	fd := regs.Read(insts.RegA0)
	bufPtr := regs.Read(insts.RegA1)
	count := regs.Read(insts.RegA2)

	var w io.Writer
	switch fd {
	case 1:
		w = k.stdout
	case 2:
		w = k.stderr
	default:
		return errno(EBADF), nil
	}
	if w == nil {
		w = io.Discard
	}

	buf, err := mem.ReadRange(bufPtr, count)
	if err != nil {
		return SyscallResult{}, err
	}
	n, err := w.Write(buf)
	if err != nil {
		return errno(EIO), nil
	}
	return SyscallResult{Ret: uint64(n)}, nil
}

// errno returns a -errno result in a0, as two's complement.
func errno(code int) SyscallResult {
	return SyscallResult{Ret: uint64(-int64(code))}
}
