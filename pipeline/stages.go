// Package pipeline provides the 5-stage in-order pipeline.
package pipeline

import (
	"github.com/clabby/brisc/emu"
	"github.com/clabby/brisc/insts"
)

// FetchStage handles instruction fetch from memory.
type FetchStage struct {
	memory     emu.Memory
	compressed bool
}

// NewFetchStage creates a new fetch stage.
func NewFetchStage(memory emu.Memory, exts insts.Extensions) *FetchStage {
	return &FetchStage{
		memory:     memory,
		compressed: exts.Has(insts.ExtC),
	}
}

// FetchResult holds the result of the fetch stage.
type FetchResult struct {
	// Word is the raw encoded word (low 16 bits for compressed).
	Word uint32
	// Size is the encoded width in bytes, from the length bits.
	Size uint8
}

// Fetch reads the encoded word at the given PC. The PC must be 2-byte
// aligned when the C extension is enabled, 4-byte aligned otherwise. The
// word is assembled from two halfword reads so that a 2-byte-aligned fetch
// never trips the data bus alignment check.
func (s *FetchStage) Fetch(pc uint64) (FetchResult, error) {
	align := uint64(4)
	if s.compressed {
		align = 2
	}
	if pc%align != 0 {
		return FetchResult{}, &emu.Fault{Kind: emu.FaultMisalignedFetch, PC: pc}
	}

	lo, err := s.memory.Read(pc, 2, false)
	if err != nil {
		return FetchResult{}, faultAt(err, pc)
	}

	if s.compressed && lo&0b11 != 0b11 {
		return FetchResult{Word: uint32(lo), Size: 2}, nil
	}

	hi, err := s.memory.Read(pc+2, 2, false)
	if err != nil {
		return FetchResult{}, faultAt(err, pc)
	}
	return FetchResult{Word: uint32(lo) | uint32(hi)<<16, Size: 4}, nil
}

// faultAt stamps the offending PC onto a memory fault.
func faultAt(err error, pc uint64) error {
	if f, ok := err.(*emu.Fault); ok {
		f.PC = pc
	}
	return err
}

// DecodeStage handles instruction decode and register read.
type DecodeStage struct {
	regFile *emu.RegFile
	decoder *insts.Decoder
}

// NewDecodeStage creates a new decode stage.
func NewDecodeStage(regFile *emu.RegFile, decoder *insts.Decoder) *DecodeStage {
	return &DecodeStage{
		regFile: regFile,
		decoder: decoder,
	}
}

// Decoder returns the decoder used by the stage.
func (s *DecodeStage) Decoder() *insts.Decoder { return s.decoder }

// DecodeResult holds the result of the decode stage.
type DecodeResult struct {
	Inst     *insts.Instruction
	Rs1Value uint64
	Rs2Value uint64

	// Destination and source registers.
	Rd  uint8
	Rs1 uint8
	Rs2 uint8

	// Control signals.
	MemRead   bool
	MemWrite  bool
	RegWrite  bool
	MemToReg  bool
	IsBranch  bool
	IsSyscall bool
}

// Decode decodes the raw word and reads register values.
func (s *DecodeStage) Decode(word uint32, pc uint64) (DecodeResult, error) {
	inst, err := s.decoder.Decode(word)
	if err != nil {
		return DecodeResult{}, &emu.Fault{Kind: emu.FaultDecodeFailed, PC: pc, Err: err}
	}

	result := DecodeResult{
		Inst: inst,
		Rd:   inst.Rd,
		Rs1:  inst.Rs1,
		Rs2:  inst.Rs2,
	}

	result.Rs1Value = s.regFile.Read(inst.Rs1)
	result.Rs2Value = s.regFile.Read(inst.Rs2)

	// Control signals. Every operation whose writeback value is produced
	// by the memory stage (loads, LR, SC success flag, AMO read value)
	// sets MemToReg so forwarding and load-use detection treat it as a
	// load.
	result.RegWrite = inst.WritesRd() && inst.Rd != 0
	switch {
	case inst.IsLoad():
		result.MemRead = true
		result.MemToReg = true
	case inst.IsStore():
		result.MemWrite = true
	case inst.IsAtomic():
		result.MemRead = true
		result.MemToReg = true
		if inst.Op != insts.OpLRW && inst.Op != insts.OpLRD {
			result.MemWrite = true
		}
	case inst.IsBranch() || inst.IsJump():
		result.IsBranch = true
	case inst.Op == insts.OpECALL:
		result.IsSyscall = true
	}

	return result, nil
}

// WritebackStage handles register file writeback.
type WritebackStage struct {
	regFile *emu.RegFile
}

// NewWritebackStage creates a new writeback stage.
func NewWritebackStage(regFile *emu.RegFile) *WritebackStage {
	return &WritebackStage{
		regFile: regFile,
	}
}

// Writeback writes the result to the register file.
func (s *WritebackStage) Writeback(memwb *MEMWBRegister) {
	if !memwb.Valid || !memwb.RegWrite {
		return
	}

	// x0 is hardwired to zero.
	if memwb.Rd == 0 {
		return
	}

	var value uint64
	if memwb.MemToReg {
		value = memwb.MemData
	} else {
		value = memwb.ALUResult
	}

	s.regFile.Write(memwb.Rd, value)
}
