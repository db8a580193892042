package pipeline

// ForwardSource indicates where a forwarded value should come from.
type ForwardSource int

const (
	// ForwardNone means no forwarding needed - use register file value.
	ForwardNone ForwardSource = iota
	// ForwardFromEXMEM means forward from EX/MEM pipeline register.
	ForwardFromEXMEM
	// ForwardFromMEMWB means forward from MEM/WB pipeline register.
	ForwardFromMEMWB
)

// ForwardingResult contains forwarding decisions for both source operands.
type ForwardingResult struct {
	// ForwardRs1 specifies the forwarding source for the rs1 operand.
	ForwardRs1 ForwardSource
	// ForwardRs2 specifies the forwarding source for the rs2 operand.
	// For stores, SC, and AMOs this doubles as the store-data forward.
	ForwardRs2 ForwardSource
}

// StallResult contains stall and flush control signals.
type StallResult struct {
	// StallIF indicates the IF stage should stall (hold current instruction).
	StallIF bool
	// StallID indicates the ID stage should stall.
	StallID bool
	// InsertBubbleEX indicates a bubble (NOP) should be inserted in EX stage.
	InsertBubbleEX bool
	// FlushIF indicates the IF stage should be flushed (control redirect).
	FlushIF bool
	// FlushID indicates the ID stage should be flushed (control redirect).
	FlushID bool
}

// HazardUnit detects data hazards and determines forwarding/stall signals.
type HazardUnit struct{}

// NewHazardUnit creates a new hazard detection unit.
func NewHazardUnit() *HazardUnit {
	return &HazardUnit{}
}

// DetectForwarding determines if forwarding is needed for the ID/EX stage.
// It checks if the source registers (rs1, rs2) match the destination
// register of instructions in later pipeline stages.
func (h *HazardUnit) DetectForwarding(
	idex *IDEXRegister,
	exmem *EXMEMRegister,
	memwb *MEMWBRegister,
) ForwardingResult {
	result := ForwardingResult{
		ForwardRs1: ForwardNone,
		ForwardRs2: ForwardNone,
	}

	if !idex.Valid {
		return result
	}

	result.ForwardRs1 = h.detectForwardForReg(idex.Rs1, exmem, memwb)
	result.ForwardRs2 = h.detectForwardForReg(idex.Rs2, exmem, memwb)

	return result
}

// detectForwardForReg checks if a specific register needs forwarding.
func (h *HazardUnit) detectForwardForReg(
	reg uint8,
	exmem *EXMEMRegister,
	memwb *MEMWBRegister,
) ForwardSource {
	// x0 always reads as 0, no need to forward.
	if reg == 0 {
		return ForwardNone
	}

	// Priority: EX/MEM has precedence over MEM/WB (more recent value).
	if exmem.Valid && exmem.RegWrite && exmem.Rd == reg {
		return ForwardFromEXMEM
	}

	if memwb.Valid && memwb.RegWrite && memwb.Rd == reg {
		return ForwardFromMEMWB
	}

	return ForwardNone
}

// DetectLoadUseHazard detects load-use hazards where a load (or any
// operation whose result is produced by the memory stage) is immediately
// followed by an instruction using its destination. This requires a stall
// because the value isn't available until after MEM, so it cannot be
// forwarded in time for EX.
func (h *HazardUnit) DetectLoadUseHazard(loadRd, nextRs1, nextRs2 uint8) bool {
	// x0 doesn't cause hazards.
	if loadRd == 0 {
		return false
	}
	return loadRd == nextRs1 || loadRd == nextRs2
}

// ComputeStalls computes stall and flush signals based on hazard conditions.
func (h *HazardUnit) ComputeStalls(loadUseHazard bool, redirect bool) StallResult {
	result := StallResult{}

	// Load-use hazard: stall IF and ID, insert bubble in EX.
	if loadUseHazard {
		result.StallIF = true
		result.StallID = true
		result.InsertBubbleEX = true
	}

	// Control redirect: flush IF and ID (kill fetched/decoded instructions).
	if redirect {
		result.FlushIF = true
		result.FlushID = true
	}

	return result
}

// GetForwardedValue returns the value to use based on forwarding decision.
func (h *HazardUnit) GetForwardedValue(
	forward ForwardSource,
	originalValue uint64,
	exmem *EXMEMRegister,
	memwb *MEMWBRegister,
) uint64 {
	switch forward {
	case ForwardFromEXMEM:
		return exmem.ALUResult
	case ForwardFromMEMWB:
		// For memory-stage results, use the memory data; otherwise the
		// ALU result.
		if memwb.MemToReg {
			return memwb.MemData
		}
		return memwb.ALUResult
	default:
		return originalValue
	}
}
