// Package loader provides ELF binary loading for RISC-V executables.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/clabby/brisc/insts"
)

// LoadErrorKind classifies ELF load failures.
type LoadErrorKind uint8

// Load failure kinds.
const (
	// ErrUnsupportedElf indicates an ELF that is not little-endian RISC-V
	// of the expected class.
	ErrUnsupportedElf LoadErrorKind = iota
	// ErrMalformedElf indicates a structurally invalid ELF image.
	ErrMalformedElf
	// ErrUnmappedSegment indicates a PT_LOAD segment outside the
	// loadable address range.
	ErrUnmappedSegment
)

// String returns a human-readable name for the kind.
func (k LoadErrorKind) String() string {
	switch k {
	case ErrUnsupportedElf:
		return "unsupported ELF"
	case ErrMalformedElf:
		return "malformed ELF"
	case ErrUnmappedSegment:
		return "unmapped segment"
	default:
		return "unknown load error"
	}
}

// LoadError is returned when an ELF image cannot be loaded.
type LoadError struct {
	// Kind classifies the failure.
	Kind LoadErrorKind
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// DefaultStackTop is the default stack top address for RISC-V user space.
const DefaultStackTop = 0x7FFF_F000

// maxLoadAddress bounds the loadable address range; PT_LOAD segments above
// it are rejected rather than silently wrapped.
const maxLoadAddress = 1 << 47

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents, zero-padded out to the memory
	// size for BSS.
	Data []byte
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint64
}

// Load parses a RISC-V ELF binary from a file. The ELF class must match the
// given register width.
func Load(path string, xlen insts.Xlen) (*Program, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Kind: ErrMalformedElf, Err: err}
	}
	return LoadBytes(raw, xlen)
}

// LoadBytes parses a RISC-V ELF binary from memory.
func LoadBytes(raw []byte, xlen insts.Xlen) (*Program, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, &LoadError{Kind: ErrMalformedElf, Err: err}
	}
	defer func() { _ = f.Close() }()

	// Validate machine, endianness, and class against the hart width.
	if f.Machine != elf.EM_RISCV {
		return nil, &LoadError{Kind: ErrUnsupportedElf,
			Err: fmt.Errorf("machine type %v is not RISC-V", f.Machine)}
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, &LoadError{Kind: ErrUnsupportedElf,
			Err: fmt.Errorf("big-endian images are not supported")}
	}
	wantClass := elf.ELFCLASS32
	if xlen == insts.Xlen64 {
		wantClass = elf.ELFCLASS64
	}
	if f.Class != wantClass {
		return nil, &LoadError{Kind: ErrUnsupportedElf,
			Err: fmt.Errorf("ELF class %v does not match XLEN %d", f.Class, xlen)}
	}

	prog := &Program{
		EntryPoint: f.Entry,
		InitialSP:  DefaultStackTop,
	}

	// Collect all PT_LOAD segments, padding BSS with zeroes.
	for i, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		if phdr.Filesz > phdr.Memsz {
			return nil, &LoadError{Kind: ErrMalformedElf,
				Err: fmt.Errorf("segment %d file size %d exceeds mem size %d",
					i, phdr.Filesz, phdr.Memsz)}
		}
		if phdr.Vaddr+phdr.Memsz >= maxLoadAddress {
			return nil, &LoadError{Kind: ErrUnmappedSegment,
				Err: fmt.Errorf("segment %d spans 0x%X-0x%X", i, phdr.Vaddr,
					phdr.Vaddr+phdr.Memsz)}
		}

		data := make([]byte, phdr.Memsz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data[:phdr.Filesz], 0)
			if err != nil && err != io.EOF {
				return nil, &LoadError{Kind: ErrMalformedElf,
					Err: fmt.Errorf("segment %d at 0x%X: %w", i, phdr.Vaddr, err)}
			}
			if uint64(n) != phdr.Filesz {
				return nil, &LoadError{Kind: ErrMalformedElf,
					Err: fmt.Errorf("segment %d short read: got %d of %d bytes",
						i, n, phdr.Filesz)}
			}
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
		})
	}

	return prog, nil
}
