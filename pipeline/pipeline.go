package pipeline

import (
	"github.com/clabby/brisc/cache"
	"github.com/clabby/brisc/emu"
	"github.com/clabby/brisc/insts"
	"github.com/clabby/brisc/latency"
)

// Statistics holds pipeline performance statistics.
type Statistics struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions completed (retired).
	Instructions uint64
	// Stalls is the number of fetch stall cycles.
	Stalls uint64
	// Flushes is the number of pipeline flushes (control redirects).
	Flushes uint64
	// ExecStalls is the number of stalls due to multi-cycle execution.
	ExecStalls uint64
	// MemStalls is the number of stalls due to memory latency.
	MemStalls uint64
	// DataHazards is the number of RAW hazards resolved by forwarding.
	DataHazards uint64
}

// CPI returns the cycles per instruction.
func (s Statistics) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}

// PipelineOption is a functional option for configuring the Pipeline.
type PipelineOption func(*Pipeline)

// WithKernel sets the environment-call handler.
func WithKernel(kernel emu.Kernel) PipelineOption {
	return func(p *Pipeline) {
		p.kernel = kernel
	}
}

// WithLatencyTable sets a custom latency table for instruction timing.
// When set, multi-cycle operations will stall the pipeline appropriately.
func WithLatencyTable(table *latency.Table) PipelineOption {
	return func(p *Pipeline) {
		p.latencyTable = table
	}
}

// WithICache enables an L1 instruction cache timing model.
func WithICache(config cache.Config) PipelineOption {
	return func(p *Pipeline) {
		p.cachedFetchStage = NewCachedFetchStage(cache.New(config))
		p.useICache = true
	}
}

// WithDCache enables an L1 data cache timing model.
func WithDCache(config cache.Config) PipelineOption {
	return func(p *Pipeline) {
		p.cachedMemoryStage = NewCachedMemoryStage(cache.New(config))
		p.useDCache = true
	}
}

// Pipeline implements the 5-stage in-order RISC-V pipeline:
// Fetch (IF) -> Decode (ID) -> Execute (EX) -> Memory (MEM) -> Writeback (WB).
//
// Hazard handling:
//   - Data forwarding from EX/MEM and MEM/WB resolves RAW hazards; priority
//     is EX/MEM over MEM/WB over the register file
//   - A load-use dependency stalls ID for one cycle and inserts a bubble
//   - Fetch predicts not-taken/sequential; branches and jumps resolve at EX
//     and a redirect squashes the two younger instructions (IF and ID)
//   - ECALL serializes: it squashes and refetches its successor so the
//     kernel's a0 writeback is visible to the next instruction
//
// Stages are evaluated in reverse order (WB→MEM→EX→IF→ID) from the prior
// cycle's latch values, then the new values are latched at cycle end.
type Pipeline struct {
	// Pipeline registers
	ifid  IFIDRegister
	idex  IDEXRegister
	exmem EXMEMRegister
	memwb MEMWBRegister

	// Pipeline stages
	fetchStage     *FetchStage
	decodeStage    *DecodeStage
	executeStage   *ExecuteStage
	memoryStage    *MemoryStage
	writebackStage *WritebackStage

	// Cached pipeline stages (optional)
	cachedFetchStage  *CachedFetchStage
	cachedMemoryStage *CachedMemoryStage
	useICache         bool
	useDCache         bool

	// Hazard detection
	hazardUnit *HazardUnit

	// Instruction timing
	latencyTable *latency.Table
	exLatency    uint64 // Remaining cycles for execute stage

	// Shared resources
	regFile *emu.RegFile
	memory  emu.Memory
	kernel  emu.Kernel
	xlen    insts.Xlen

	// Program counter and reservation set
	pc          uint64
	reservation Reservation

	// Statistics
	stats Statistics

	// Execution state
	halted   bool
	exitCode uint64
}

// NewPipeline creates a new 5-stage pipeline over the given architectural
// state. The decoder supplies the register width and extension set.
func NewPipeline(regFile *emu.RegFile, memory emu.Memory, decoder *insts.Decoder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		fetchStage:     NewFetchStage(memory, decoder.Extensions()),
		decodeStage:    NewDecodeStage(regFile, decoder),
		executeStage:   NewExecuteStage(decoder.Xlen()),
		memoryStage:    NewMemoryStage(memory, decoder.Xlen()),
		writebackStage: NewWritebackStage(regFile),
		hazardUnit:     NewHazardUnit(),
		regFile:        regFile,
		memory:         memory,
		xlen:           decoder.Xlen(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.kernel == nil {
		p.kernel = emu.NewLinuxKernel()
	}

	return p
}

// PC returns the current program counter.
func (p *Pipeline) PC() uint64 {
	return p.pc
}

// SetPC sets the program counter.
func (p *Pipeline) SetPC(pc uint64) {
	p.pc = pc
}

// RegFile returns the register file.
func (p *Pipeline) RegFile() *emu.RegFile {
	return p.regFile
}

// Memory returns the memory bus.
func (p *Pipeline) Memory() emu.Memory {
	return p.memory
}

// GetIFID returns the IF/ID pipeline register.
func (p *Pipeline) GetIFID() *IFIDRegister {
	return &p.ifid
}

// GetIDEX returns the ID/EX pipeline register.
func (p *Pipeline) GetIDEX() *IDEXRegister {
	return &p.idex
}

// GetEXMEM returns the EX/MEM pipeline register.
func (p *Pipeline) GetEXMEM() *EXMEMRegister {
	return &p.exmem
}

// GetMEMWB returns the MEM/WB pipeline register.
func (p *Pipeline) GetMEMWB() *MEMWBRegister {
	return &p.memwb
}

// Reservation returns the LR/SC reservation set.
func (p *Pipeline) Reservation() *Reservation {
	return &p.reservation
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Statistics {
	return p.stats
}

// Halted returns true if the pipeline has halted.
func (p *Pipeline) Halted() bool {
	return p.halted
}

// ExitCode returns the exit code if the pipeline has halted.
func (p *Pipeline) ExitCode() uint64 {
	return p.exitCode
}

// Run executes the pipeline until it halts or faults, returning the guest
// exit code.
func (p *Pipeline) Run() (uint64, error) {
	for !p.halted {
		if err := p.Tick(); err != nil {
			return 0, err
		}
	}
	return p.exitCode, nil
}

// Tick executes one pipeline cycle. A fault aborts the cycle and leaves the
// pipeline state as of the fault; no fault is recovered internally.
func (p *Pipeline) Tick() error {
	if p.halted {
		return nil
	}

	p.stats.Cycles++

	// Detect hazards before executing stages.
	forwarding := p.hazardUnit.DetectForwarding(&p.idex, &p.exmem, &p.memwb)
	if forwarding.ForwardRs1 != ForwardNone || forwarding.ForwardRs2 != ForwardNone {
		p.stats.DataHazards++
	}

	// Detect load-use hazards between the EX stage (ID/EX) and the ID
	// stage (IF/ID). These require a stall because a memory-stage result
	// isn't available in time to forward into EX. ALU-to-ALU dependencies
	// are handled by forwarding alone.
	loadUseHazard := false
	if p.idex.Valid && p.idex.MemToReg && p.idex.Rd != 0 && p.ifid.Valid {
		// Peek at the next instruction's source registers.
		if next, err := p.decodeStage.Decoder().Decode(p.ifid.Word); err == nil {
			loadUseHazard = p.hazardUnit.DetectLoadUseHazard(p.idex.Rd, next.Rs1, next.Rs2)
		}
	}

	// Stage 5: Writeback
	savedMEMWB := p.memwb
	p.writebackStage.Writeback(&p.memwb)
	if p.memwb.Valid {
		p.stats.Instructions++
	}

	// Stage 4: Memory
	var nextMEMWB MEMWBRegister
	memStall := false
	if p.exmem.Valid {
		if p.exmem.IsSyscall {
			sysno := p.regFile.Read(insts.RegA7)
			result, err := p.kernel.Syscall(sysno, p.regFile, p.memory)
			if err != nil {
				return &emu.Fault{Kind: emu.FaultKernelError, PC: p.exmem.PC, Err: err}
			}
			if result.Exited {
				p.halt(result.ExitCode)
				return nil
			}
			// The kernel return value lands in a0 at WB.
			nextMEMWB = MEMWBRegister{
				Valid:    true,
				PC:       p.exmem.PC,
				Inst:     p.exmem.Inst,
				MemData:  p.xlen.Norm(result.Ret),
				Rd:       insts.RegA0,
				RegWrite: true,
				MemToReg: true,
			}
		} else {
			if p.useDCache && p.cachedMemoryStage != nil {
				memStall = p.cachedMemoryStage.Consult(&p.exmem)
				if memStall {
					p.stats.MemStalls++
				}
			}
			if !memStall {
				memResult, err := p.memoryStage.Access(&p.exmem, &p.reservation)
				if err != nil {
					return err
				}
				nextMEMWB = MEMWBRegister{
					Valid:     true,
					PC:        p.exmem.PC,
					Inst:      p.exmem.Inst,
					ALUResult: p.exmem.ALUResult,
					MemData:   memResult.MemData,
					Rd:        p.exmem.Rd,
					RegWrite:  p.exmem.RegWrite,
					MemToReg:  p.exmem.MemToReg,
				}
			}
		}
	}

	// Stage 3: Execute
	var nextEXMEM EXMEMRegister
	execStall := false
	redirect := false
	var redirectTarget uint64
	rs1v := p.hazardUnit.GetForwardedValue(
		forwarding.ForwardRs1, p.idex.Rs1Value, &p.exmem, &savedMEMWB)
	rs2v := p.hazardUnit.GetForwardedValue(
		forwarding.ForwardRs2, p.idex.Rs2Value, &p.exmem, &savedMEMWB)
	if p.idex.Valid && !memStall {
		if p.latencyTable != nil && p.exLatency == 0 {
			p.exLatency = p.latencyTable.GetLatency(p.idex.Inst)
		}
		if p.exLatency > 0 {
			p.exLatency--
		}

		if p.exLatency > 0 {
			execStall = true
			p.stats.ExecStalls++
		} else {
			execResult, err := p.executeStage.Execute(&p.idex, rs1v, rs2v)
			if err != nil {
				return err
			}

			nextEXMEM = EXMEMRegister{
				Valid:      true,
				PC:         p.idex.PC,
				Inst:       p.idex.Inst,
				ALUResult:  execResult.ALUResult,
				StoreValue: execResult.StoreValue,
				Rd:         p.idex.Rd,
				MemRead:    p.idex.MemRead,
				MemWrite:   p.idex.MemWrite,
				RegWrite:   p.idex.RegWrite,
				MemToReg:   p.idex.MemToReg,
				IsSyscall:  p.idex.IsSyscall,
			}

			// Control resolution. Fetch predicted the sequential
			// successor, so a taken target that differs from it squashes
			// the two younger instructions.
			if execResult.BranchTaken && execResult.BranchTarget != p.idex.NextPC {
				if err := p.checkTargetAlignment(execResult.BranchTarget); err != nil {
					return err
				}
				redirect = true
				redirectTarget = execResult.BranchTarget
			}

			// ECALL serializes the pipeline: the successor is refetched
			// so it decodes after the kernel's a0 writeback.
			if p.idex.IsSyscall {
				redirect = true
				redirectTarget = p.idex.NextPC
			}
		}
	}
	if execStall || memStall {
		// ID/EX holds its instruction while the producers of its operands
		// move on and retire; keep the values forwarded this cycle.
		p.idex.Rs1Value, p.idex.Rs2Value = rs1v, rs2v
	}

	stall := p.hazardUnit.ComputeStalls(loadUseHazard || execStall || memStall, redirect)

	// Stage 1: Fetch
	var nextIFID IFIDRegister
	if !stall.StallIF && !stall.FlushIF {
		fetchStall := false
		if p.useICache && p.cachedFetchStage != nil {
			fetchStall = p.cachedFetchStage.Consult(p.pc)
		}
		if fetchStall {
			// The fetch retries next cycle; a bubble enters ID.
			p.stats.Stalls++
		} else {
			fetched, err := p.fetchStage.Fetch(p.pc)
			if err != nil {
				return err
			}
			nextPC := p.xlen.Norm(p.pc + uint64(fetched.Size))
			nextIFID = IFIDRegister{
				Valid:  true,
				PC:     p.pc,
				Word:   fetched.Word,
				Size:   fetched.Size,
				NextPC: nextPC,
			}
			p.pc = nextPC
		}
	} else if stall.StallIF && !stall.FlushIF {
		nextIFID = p.ifid
		p.stats.Stalls++
	}

	// Stage 2: Decode
	// A decode fault is held back until the redirect decision is known:
	// an undecodable word on the squashed wrong path is a bubble, not a
	// fault.
	var nextIDEX IDEXRegister
	var decodeErr error
	if p.ifid.Valid && !stall.StallID && !stall.FlushID && !execStall && !memStall {
		decoded, err := p.decodeStage.Decode(p.ifid.Word, p.ifid.PC)
		if err != nil {
			decodeErr = err
		} else {
			nextIDEX = IDEXRegister{
				Valid:     true,
				PC:        p.ifid.PC,
				NextPC:    p.ifid.NextPC,
				Inst:      decoded.Inst,
				Rs1Value:  decoded.Rs1Value,
				Rs2Value:  decoded.Rs2Value,
				Rd:        decoded.Rd,
				Rs1:       decoded.Rs1,
				Rs2:       decoded.Rs2,
				MemRead:   decoded.MemRead,
				MemWrite:  decoded.MemWrite,
				RegWrite:  decoded.RegWrite,
				MemToReg:  decoded.MemToReg,
				IsBranch:  decoded.IsBranch,
				IsSyscall: decoded.IsSyscall,
			}
		}
	} else if (stall.StallID || execStall) && !stall.FlushID {
		nextIDEX = p.idex
	}
	if decodeErr != nil && !redirect {
		return decodeErr
	}

	// Latch the pipeline registers.
	if memStall {
		// The memory stage holds the whole pipeline; a bubble enters WB.
		p.memwb.Clear()
		return nil
	}
	p.memwb = nextMEMWB

	if execStall {
		// EX is occupied; a bubble enters MEM, everything upstream holds.
		p.exmem.Clear()
		p.ifid = nextIFID
		return nil
	}
	p.exmem = nextEXMEM

	if stall.InsertBubbleEX {
		p.idex.Clear()
	} else {
		p.idex = nextIDEX
	}
	p.ifid = nextIFID

	if redirect {
		p.pc = redirectTarget
		p.ifid.Clear()
		p.idex.Clear()
		p.stats.Flushes++
	}

	return nil
}

// checkTargetAlignment validates a resolved control-transfer target against
// the fetch alignment rule: 2-byte when the C extension is enabled, 4-byte
// otherwise. The fault is attributed to the jump or branch itself.
func (p *Pipeline) checkTargetAlignment(target uint64) error {
	align := uint64(4)
	if p.fetchStage.compressed {
		align = 2
	}
	if target%align != 0 {
		return &emu.Fault{Kind: emu.FaultMisalignedFetch, PC: p.idex.PC, Addr: target}
	}
	return nil
}

// halt stops the pipeline and squashes everything in flight. Nothing
// younger than the exiting instruction commits.
func (p *Pipeline) halt(code uint64) {
	p.halted = true
	p.exitCode = code
	p.ifid.Clear()
	p.idex.Clear()
	p.exmem.Clear()
	p.memwb.Clear()
}
