// Package latency provides per-operation execute-stage timing for the
// pipeline. Multi-cycle operations occupy EX for their full latency,
// stalling upstream stages.
package latency

import (
	"github.com/clabby/brisc/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing
// configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the execute-stage latency in cycles for the given
// instruction.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	switch {
	case inst.IsBranch() || inst.IsJump():
		return t.config.BranchLatency

	case inst.IsLoad():
		return t.config.LoadLatency

	case inst.IsStore():
		return t.config.StoreLatency

	case inst.Op == insts.OpECALL:
		return t.config.SyscallLatency
	}

	switch inst.Op {
	case insts.OpMUL, insts.OpMULH, insts.OpMULHSU, insts.OpMULHU, insts.OpMULW:
		return t.config.MultiplyLatency

	case insts.OpDIV, insts.OpDIVU, insts.OpREM, insts.OpREMU,
		insts.OpDIVW, insts.OpDIVUW, insts.OpREMW, insts.OpREMUW:
		return t.config.DivideLatency

	default:
		return t.config.ALULatency
	}
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
