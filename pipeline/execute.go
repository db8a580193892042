package pipeline

import (
	"math"
	"math/bits"

	"github.com/clabby/brisc/emu"
	"github.com/clabby/brisc/insts"
)

// ExecuteStage handles ALU operations, branch resolution, and address
// calculation.
type ExecuteStage struct {
	xlen insts.Xlen
}

// NewExecuteStage creates a new execute stage.
func NewExecuteStage(xlen insts.Xlen) *ExecuteStage {
	return &ExecuteStage{
		xlen: xlen,
	}
}

// ExecuteResult holds the result of the execute stage.
type ExecuteResult struct {
	// ALUResult is the computation result, or the effective address for
	// memory operations, or the return address for jumps.
	ALUResult uint64

	// StoreValue is the rs2 value for stores, SC, and AMOs.
	StoreValue uint64

	// Branch resolution.
	BranchTaken  bool
	BranchTarget uint64
}

// Execute performs the EX stage for the instruction in ID/EX, using the
// already-forwarded operand values. All arithmetic wraps modulo 2^XLEN.
func (s *ExecuteStage) Execute(idex *IDEXRegister, rs1v, rs2v uint64) (ExecuteResult, error) {
	result := ExecuteResult{StoreValue: rs2v}
	inst := idex.Inst
	x := s.xlen

	if inst == nil {
		return result, nil
	}

	switch {
	case inst.IsLoad() || inst.IsStore():
		result.ALUResult = x.Norm(rs1v + inst.Imm)
		return result, nil

	case inst.IsAtomic():
		// AMO addressing has no immediate; the address is rs1.
		result.ALUResult = x.Norm(rs1v)
		return result, nil

	case inst.IsBranch():
		if s.branchTaken(inst.Op, rs1v, rs2v) {
			result.BranchTaken = true
			result.BranchTarget = x.Norm(idex.PC + inst.Imm)
		}
		return result, nil
	}

	switch inst.Op {
	case insts.OpJAL:
		result.ALUResult = idex.NextPC
		result.BranchTaken = true
		result.BranchTarget = x.Norm(idex.PC + inst.Imm)

	case insts.OpJALR:
		result.ALUResult = idex.NextPC
		result.BranchTaken = true
		result.BranchTarget = x.Norm(rs1v+inst.Imm) &^ 1

	case insts.OpLUI:
		result.ALUResult = inst.Imm

	case insts.OpAUIPC:
		result.ALUResult = x.Norm(idex.PC + inst.Imm)

	case insts.OpFENCE, insts.OpFENCEI:
		// Memory and instruction fences are no-ops on a single hart with
		// no instruction cache to flush.

	case insts.OpECALL:
		// Dispatched to the kernel at MEM; the pipeline serializes around
		// it via IsSyscall.

	case insts.OpEBREAK:
		return result, &emu.Fault{Kind: emu.FaultBreakpoint, PC: idex.PC}

	default:
		result.ALUResult = s.alu(inst.Op, rs1v, rs2v, inst.Imm)
	}

	return result, nil
}

// branchTaken evaluates a conditional branch.
func (s *ExecuteStage) branchTaken(op insts.Op, rs1v, rs2v uint64) bool {
	x := s.xlen
	switch op {
	case insts.OpBEQ:
		return rs1v == rs2v
	case insts.OpBNE:
		return rs1v != rs2v
	case insts.OpBLT:
		return x.Sign(rs1v) < x.Sign(rs2v)
	case insts.OpBGE:
		return x.Sign(rs1v) >= x.Sign(rs2v)
	case insts.OpBLTU:
		return rs1v < rs2v
	case insts.OpBGEU:
		return rs1v >= rs2v
	}
	return false
}

// alu computes the integer operations. Shift amounts mask to log2(XLEN)
// bits, and the RV64 W forms compute in 32 bits then sign-extend.
func (s *ExecuteStage) alu(op insts.Op, rs1v, rs2v, imm uint64) uint64 {
	x := s.xlen

	switch op {
	// Register arithmetic
	case insts.OpADD:
		return x.Norm(rs1v + rs2v)
	case insts.OpSUB:
		return x.Norm(rs1v - rs2v)
	case insts.OpSLL:
		return x.Norm(rs1v << (rs2v & x.ShiftMask()))
	case insts.OpSRL:
		return x.Norm(rs1v >> (rs2v & x.ShiftMask()))
	case insts.OpSRA:
		return x.Norm(uint64(x.Sign(rs1v) >> (rs2v & x.ShiftMask())))
	case insts.OpSLT:
		return boolToReg(x.Sign(rs1v) < x.Sign(rs2v))
	case insts.OpSLTU:
		return boolToReg(rs1v < rs2v)
	case insts.OpXOR:
		return rs1v ^ rs2v
	case insts.OpOR:
		return rs1v | rs2v
	case insts.OpAND:
		return rs1v & rs2v

	// Immediate arithmetic
	case insts.OpADDI:
		return x.Norm(rs1v + imm)
	case insts.OpSLTI:
		return boolToReg(x.Sign(rs1v) < x.Sign(imm))
	case insts.OpSLTIU:
		return boolToReg(rs1v < imm)
	case insts.OpXORI:
		return rs1v ^ imm
	case insts.OpORI:
		return rs1v | imm
	case insts.OpANDI:
		return rs1v & imm
	case insts.OpSLLI:
		return x.Norm(rs1v << imm)
	case insts.OpSRLI:
		return x.Norm(rs1v >> imm)
	case insts.OpSRAI:
		return x.Norm(uint64(x.Sign(rs1v) >> imm))

	// RV64 word forms
	case insts.OpADDIW:
		return signExtend32(uint32(rs1v) + uint32(imm))
	case insts.OpSLLIW:
		return signExtend32(uint32(rs1v) << imm)
	case insts.OpSRLIW:
		return signExtend32(uint32(rs1v) >> imm)
	case insts.OpSRAIW:
		return signExtend32(uint32(int32(uint32(rs1v)) >> imm))
	case insts.OpADDW:
		return signExtend32(uint32(rs1v) + uint32(rs2v))
	case insts.OpSUBW:
		return signExtend32(uint32(rs1v) - uint32(rs2v))
	case insts.OpSLLW:
		return signExtend32(uint32(rs1v) << (rs2v & 0x1F))
	case insts.OpSRLW:
		return signExtend32(uint32(rs1v) >> (rs2v & 0x1F))
	case insts.OpSRAW:
		return signExtend32(uint32(int32(uint32(rs1v)) >> (rs2v & 0x1F)))

	// M extension
	case insts.OpMUL:
		return x.Norm(rs1v * rs2v)
	case insts.OpMULH:
		return s.mulh(rs1v, rs2v, true, true)
	case insts.OpMULHSU:
		return s.mulh(rs1v, rs2v, true, false)
	case insts.OpMULHU:
		return s.mulh(rs1v, rs2v, false, false)
	case insts.OpDIV:
		return s.div(rs1v, rs2v)
	case insts.OpDIVU:
		if rs2v == 0 {
			return x.Mask()
		}
		return rs1v / rs2v
	case insts.OpREM:
		return s.rem(rs1v, rs2v)
	case insts.OpREMU:
		if rs2v == 0 {
			return rs1v
		}
		return rs1v % rs2v

	// M extension, RV64 word forms
	case insts.OpMULW:
		return signExtend32(uint32(rs1v) * uint32(rs2v))
	case insts.OpDIVW:
		return signExtend32(div32(uint32(rs1v), uint32(rs2v)))
	case insts.OpDIVUW:
		if uint32(rs2v) == 0 {
			return signExtend32(math.MaxUint32)
		}
		return signExtend32(uint32(rs1v) / uint32(rs2v))
	case insts.OpREMW:
		return signExtend32(rem32(uint32(rs1v), uint32(rs2v)))
	case insts.OpREMUW:
		if uint32(rs2v) == 0 {
			return signExtend32(uint32(rs1v))
		}
		return signExtend32(uint32(rs1v) % uint32(rs2v))
	}

	return 0
}

// mulh computes the high XLEN bits of the full-width product, with either
// operand treated as signed or unsigned.
func (s *ExecuteStage) mulh(a, b uint64, aSigned, bSigned bool) uint64 {
	if s.xlen == insts.Xlen32 {
		var sa, sb int64
		if aSigned {
			sa = int64(int32(uint32(a)))
		} else {
			sa = int64(uint32(a))
		}
		if bSigned {
			sb = int64(int32(uint32(b)))
		} else {
			sb = int64(uint32(b))
		}
		return uint64(uint32((sa * sb) >> 32))
	}

	// 64x64 -> 128: take the unsigned high word and correct for negative
	// signed operands.
	hi, _ := bits.Mul64(a, b)
	if aSigned && int64(a) < 0 {
		hi -= b
	}
	if bSigned && int64(b) < 0 {
		hi -= a
	}
	return hi
}

// div computes signed division with the RISC-V sentinels: division by zero
// yields all ones, and INT_MIN / -1 yields INT_MIN.
func (s *ExecuteStage) div(a, b uint64) uint64 {
	x := s.xlen
	if b == 0 {
		return x.Mask()
	}
	sa, sb := x.Sign(a), x.Sign(b)
	if sb == -1 && a == x.Norm(1<<(x.Bits()-1)) {
		return a
	}
	return x.Norm(uint64(sa / sb))
}

// rem computes signed remainder with the RISC-V sentinels: remainder by
// zero yields the dividend, and INT_MIN % -1 yields 0.
func (s *ExecuteStage) rem(a, b uint64) uint64 {
	x := s.xlen
	if b == 0 {
		return a
	}
	sa, sb := x.Sign(a), x.Sign(b)
	if sb == -1 && a == x.Norm(1<<(x.Bits()-1)) {
		return 0
	}
	return x.Norm(uint64(sa % sb))
}

// div32 computes 32-bit signed division with the RISC-V sentinels.
func div32(a, b uint32) uint32 {
	if b == 0 {
		return math.MaxUint32
	}
	if int32(b) == -1 && a == 1<<31 {
		return a
	}
	return uint32(int32(a) / int32(b))
}

// rem32 computes 32-bit signed remainder with the RISC-V sentinels.
func rem32(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	if int32(b) == -1 && a == 1<<31 {
		return 0
	}
	return uint32(int32(a) % int32(b))
}

// signExtend32 sign-extends a 32-bit value to the 64-bit register type.
func signExtend32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
