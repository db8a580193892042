// Package brisc is a single-hart RISC-V emulator for unprivileged
// rv{32,64}i programs with the optional M, A, and C extensions. Programs
// execute on a modeled in-order 5-stage pipeline with forwarding and hazard
// handling; environment calls dispatch to a host-supplied kernel.
//
// Usage:
//
//	prog, err := loader.Load("prog.elf", insts.Xlen64)
//	if err != nil {
//		// ...
//	}
//	em, err := brisc.NewBuilder().
//		WithISA(insts.Xlen64, insts.ExtM|insts.ExtA|insts.ExtC).
//		WithProgram(prog).
//		WithKernel(emu.NewLinuxKernel(emu.WithStdout(os.Stdout))).
//		Build()
//	if err != nil {
//		// ...
//	}
//	exitCode, err := em.Run()
package brisc

import (
	"github.com/clabby/brisc/emu"
	"github.com/clabby/brisc/pipeline"
)

// Emulator drives the pipeline: Step advances one cycle, Run loops until
// the guest exits or a fault is raised.
type Emulator struct {
	pipeline   *pipeline.Pipeline
	cycleLimit uint64
}

// Step runs one cycle. It returns a Fault of kind FaultCycleLimitExceeded
// once the configured cycle cap has elapsed.
func (e *Emulator) Step() error {
	if e.cycleLimit > 0 && e.pipeline.Stats().Cycles >= e.cycleLimit {
		return &emu.Fault{Kind: emu.FaultCycleLimitExceeded, PC: e.pipeline.PC()}
	}
	return e.pipeline.Tick()
}

// Run steps the emulator until the exit flag is set or a fault is raised,
// returning the guest exit code.
func (e *Emulator) Run() (uint64, error) {
	for !e.pipeline.Halted() {
		if err := e.Step(); err != nil {
			return 0, err
		}
	}
	return e.pipeline.ExitCode(), nil
}

// Halted returns true once the guest has exited.
func (e *Emulator) Halted() bool {
	return e.pipeline.Halted()
}

// ExitCode returns the guest exit code after Halted is true.
func (e *Emulator) ExitCode() uint64 {
	return e.pipeline.ExitCode()
}

// Pipeline returns the underlying pipeline.
func (e *Emulator) Pipeline() *pipeline.Pipeline {
	return e.pipeline
}

// RegFile returns the register file.
func (e *Emulator) RegFile() *emu.RegFile {
	return e.pipeline.RegFile()
}

// Memory returns the memory bus.
func (e *Emulator) Memory() emu.Memory {
	return e.pipeline.Memory()
}

// Stats returns pipeline statistics.
func (e *Emulator) Stats() pipeline.Statistics {
	return e.pipeline.Stats()
}
