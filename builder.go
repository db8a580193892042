package brisc

import (
	"fmt"

	"github.com/clabby/brisc/emu"
	"github.com/clabby/brisc/insts"
	"github.com/clabby/brisc/loader"
	"github.com/clabby/brisc/pipeline"
)

// Builder assembles an Emulator from its collaborators: the ISA
// configuration, the memory image, the kernel, and the entry point.
type Builder struct {
	xlen         insts.Xlen
	exts         insts.Extensions
	memory       emu.Memory
	kernel       emu.Kernel
	program      *loader.Program
	entryPC      uint64
	entrySet     bool
	initialSP    uint64
	spSet        bool
	cycleLimit   uint64
	pipelineOpts []pipeline.PipelineOption
}

// NewBuilder creates a Builder with the default configuration: rv64imac, a
// fresh sparse memory, and the Linux-style kernel with discarded I/O.
func NewBuilder() *Builder {
	return &Builder{
		xlen: insts.Xlen64,
		exts: insts.ExtM | insts.ExtA | insts.ExtC,
	}
}

// WithISA selects the register width and extension set. The base integer
// ISA is always present.
func (b *Builder) WithISA(xlen insts.Xlen, exts insts.Extensions) *Builder {
	b.xlen = xlen
	b.exts = exts
	return b
}

// WithMemory supplies an external Memory implementation. Without it, Build
// creates a SimpleMemory.
func (b *Builder) WithMemory(memory emu.Memory) *Builder {
	b.memory = memory
	return b
}

// WithKernel supplies the environment-call handler.
func (b *Builder) WithKernel(kernel emu.Kernel) *Builder {
	b.kernel = kernel
	return b
}

// WithProgram supplies a loaded ELF program. Build copies its segments into
// memory and takes the entry point and initial stack pointer from it.
func (b *Builder) WithProgram(prog *loader.Program) *Builder {
	b.program = prog
	return b
}

// WithEntryPC sets the initial program counter, overriding the program's
// entry point.
func (b *Builder) WithEntryPC(pc uint64) *Builder {
	b.entryPC = pc
	b.entrySet = true
	return b
}

// WithInitialSP sets the initial stack pointer, overriding the program's.
func (b *Builder) WithInitialSP(sp uint64) *Builder {
	b.initialSP = sp
	b.spSet = true
	return b
}

// WithCycleLimit bounds execution: once the cap elapses, Step raises a
// Fault of kind FaultCycleLimitExceeded. Zero means no limit.
func (b *Builder) WithCycleLimit(cycles uint64) *Builder {
	b.cycleLimit = cycles
	return b
}

// WithPipelineOptions forwards options to the pipeline, e.g. a latency
// table or cache models.
func (b *Builder) WithPipelineOptions(opts ...pipeline.PipelineOption) *Builder {
	b.pipelineOpts = append(b.pipelineOpts, opts...)
	return b
}

// Build validates the configuration and returns a runnable emulator.
func (b *Builder) Build() (*Emulator, error) {
	memory := b.memory
	if memory == nil {
		memory = emu.NewSimpleMemory()
	}

	pc := b.entryPC
	sp := b.initialSP
	if b.program != nil {
		for _, seg := range b.program.Segments {
			if err := memory.WriteRange(seg.VirtAddr, seg.Data); err != nil {
				return nil, fmt.Errorf("failed to load segment at 0x%X: %w", seg.VirtAddr, err)
			}
		}
		if !b.entrySet {
			pc = b.program.EntryPoint
		}
		if !b.spSet {
			sp = b.program.InitialSP
		}
	}

	// The entry point must respect the fetch alignment rule.
	align := uint64(4)
	if b.exts.Has(insts.ExtC) {
		align = 2
	}
	if pc%align != 0 {
		return nil, &emu.Fault{Kind: emu.FaultMisalignedFetch, PC: pc, Addr: pc}
	}

	regFile := &emu.RegFile{}
	regFile.Write(insts.RegSP, b.xlen.Norm(sp))

	opts := b.pipelineOpts
	if b.kernel != nil {
		opts = append(opts, pipeline.WithKernel(b.kernel))
	}

	decoder := insts.NewDecoder(b.xlen, b.exts)
	p := pipeline.NewPipeline(regFile, memory, decoder, opts...)
	p.SetPC(b.xlen.Norm(pc))

	return &Emulator{
		pipeline:   p,
		cycleLimit: b.cycleLimit,
	}, nil
}
