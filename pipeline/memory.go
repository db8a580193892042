package pipeline

import (
	"github.com/clabby/brisc/emu"
	"github.com/clabby/brisc/insts"
)

// MemoryStage handles loads, stores, and the A-extension operations. It is
// the only stage that touches the memory bus, and it owns the interaction
// with the hart's reservation set.
type MemoryStage struct {
	memory emu.Memory
	xlen   insts.Xlen
}

// NewMemoryStage creates a new memory stage.
func NewMemoryStage(memory emu.Memory, xlen insts.Xlen) *MemoryStage {
	return &MemoryStage{
		memory: memory,
		xlen:   xlen,
	}
}

// MemoryResult holds the result of the memory stage.
type MemoryResult struct {
	// MemData is the value destined for writeback: the loaded value for
	// loads, LR, and AMOs, or the success flag for SC.
	MemData uint64
}

// Access performs the MEM stage for the instruction in EX/MEM. Stores that
// overlap the reservation invalidate it; SC clears it regardless of
// outcome.
func (s *MemoryStage) Access(exmem *EXMEMRegister, resv *Reservation) (MemoryResult, error) {
	result := MemoryResult{}

	if !exmem.Valid || exmem.Inst == nil {
		return result, nil
	}

	inst := exmem.Inst
	addr := exmem.ALUResult

	if inst.IsAtomic() {
		return s.atomic(exmem, resv)
	}

	if exmem.MemRead {
		value, err := s.memory.Read(addr, inst.MemoryWidth(), inst.MemorySigned())
		if err != nil {
			return result, faultAt(err, exmem.PC)
		}
		result.MemData = s.xlen.Norm(value)
		return result, nil
	}

	if exmem.MemWrite {
		width := inst.MemoryWidth()
		if err := s.memory.Write(addr, width, exmem.StoreValue); err != nil {
			return result, faultAt(err, exmem.PC)
		}
		if resv.Overlaps(addr, width) {
			resv.Clear()
		}
	}

	return result, nil
}

// atomic performs the A-extension operations: LR records a reservation, SC
// stores conditionally on it, and the AMOs load, compute, and store in a
// single occupancy of the stage.
func (s *MemoryStage) atomic(exmem *EXMEMRegister, resv *Reservation) (MemoryResult, error) {
	result := MemoryResult{}
	inst := exmem.Inst
	addr := exmem.ALUResult
	width := inst.MemoryWidth()

	if addr%uint64(width) != 0 {
		return result, &emu.Fault{Kind: emu.FaultMisalignedAccess, PC: exmem.PC, Addr: addr}
	}

	switch inst.Op {
	case insts.OpLRW, insts.OpLRD:
		value, err := s.memory.Read(addr, width, true)
		if err != nil {
			return result, faultAt(err, exmem.PC)
		}
		*resv = Reservation{Addr: addr, Size: width, Valid: true}
		result.MemData = s.xlen.Norm(value)
		return result, nil

	case insts.OpSCW, insts.OpSCD:
		// SC succeeds iff the reservation is live and matches this
		// address. The reservation is consumed either way.
		if resv.Valid && resv.Addr == addr {
			if err := s.memory.Write(addr, width, exmem.StoreValue); err != nil {
				resv.Clear()
				return result, faultAt(err, exmem.PC)
			}
			result.MemData = 0
		} else {
			result.MemData = 1
		}
		resv.Clear()
		return result, nil
	}

	// AMO: load, compute, store; writeback returns the loaded value.
	loaded, err := s.memory.Read(addr, width, true)
	if err != nil {
		return result, faultAt(err, exmem.PC)
	}
	updated := amoCompute(inst.Op, loaded, exmem.StoreValue, width)
	if err := s.memory.Write(addr, width, updated); err != nil {
		return result, faultAt(err, exmem.PC)
	}
	if resv.Overlaps(addr, width) {
		resv.Clear()
	}
	result.MemData = s.xlen.Norm(loaded)
	return result, nil
}

// amoCompute applies an AMO function to the loaded value and the rs2
// operand. Word-width forms compute in 32 bits.
func amoCompute(op insts.Op, loaded, operand uint64, width uint8) uint64 {
	if width == 4 {
		return uint64(amoCompute32(op, uint32(loaded), uint32(operand)))
	}

	switch op {
	case insts.OpAMOSWAPD:
		return operand
	case insts.OpAMOADDD:
		return loaded + operand
	case insts.OpAMOXORD:
		return loaded ^ operand
	case insts.OpAMOANDD:
		return loaded & operand
	case insts.OpAMOORD:
		return loaded | operand
	case insts.OpAMOMIND:
		if int64(loaded) < int64(operand) {
			return loaded
		}
		return operand
	case insts.OpAMOMAXD:
		if int64(loaded) > int64(operand) {
			return loaded
		}
		return operand
	case insts.OpAMOMINUD:
		if loaded < operand {
			return loaded
		}
		return operand
	case insts.OpAMOMAXUD:
		if loaded > operand {
			return loaded
		}
		return operand
	}
	return loaded
}

// amoCompute32 applies a word-width AMO function.
func amoCompute32(op insts.Op, loaded, operand uint32) uint32 {
	switch op {
	case insts.OpAMOSWAPW:
		return operand
	case insts.OpAMOADDW:
		return loaded + operand
	case insts.OpAMOXORW:
		return loaded ^ operand
	case insts.OpAMOANDW:
		return loaded & operand
	case insts.OpAMOORW:
		return loaded | operand
	case insts.OpAMOMINW:
		if int32(loaded) < int32(operand) {
			return loaded
		}
		return operand
	case insts.OpAMOMAXW:
		if int32(loaded) > int32(operand) {
			return loaded
		}
		return operand
	case insts.OpAMOMINUW:
		if loaded < operand {
			return loaded
		}
		return operand
	case insts.OpAMOMAXUW:
		if loaded > operand {
			return loaded
		}
		return operand
	}
	return loaded
}
