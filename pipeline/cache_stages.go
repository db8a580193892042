package pipeline

import (
	"github.com/clabby/brisc/cache"
)

// CachedFetchStage overlays an L1 instruction cache on the fetch stage.
// The cache decides how many cycles the fetch stalls; the architectural
// word still comes from the memory bus.
type CachedFetchStage struct {
	cache     *cache.Cache
	pending   bool   // True if waiting out an access latency
	pendingPC uint64 // PC being waited on
	latency   uint64 // Remaining latency cycles
}

// NewCachedFetchStage creates a new cached fetch stage.
func NewCachedFetchStage(icache *cache.Cache) *CachedFetchStage {
	return &CachedFetchStage{
		cache: icache,
	}
}

// Consult charges the I-cache access for a fetch at pc. It returns true
// while the fetch must stall.
func (s *CachedFetchStage) Consult(pc uint64) (stall bool) {
	// If the PC changed, cancel any pending request (e.g. redirect).
	if s.pending && s.pendingPC != pc {
		s.pending = false
		s.latency = 0
	}

	// Still waiting for a previous access at the same PC.
	if s.pending {
		s.latency--
		if s.latency > 0 {
			return true
		}
		s.pending = false
		return false
	}

	result := s.cache.Read(pc)
	if result.Latency <= 1 {
		return false
	}

	// Multi-cycle access: this cycle counts as the first.
	s.pending = true
	s.pendingPC = pc
	s.latency = result.Latency - 1
	return true
}

// Reset clears pending state.
func (s *CachedFetchStage) Reset() {
	s.pending = false
	s.latency = 0
}

// CacheStats returns the underlying cache statistics.
func (s *CachedFetchStage) CacheStats() cache.Statistics {
	return s.cache.Stats()
}

// CachedMemoryStage overlays an L1 data cache on the memory stage. Loads
// stall for the access latency; stores are fire-and-forget through a store
// buffer and do not stall.
type CachedMemoryStage struct {
	cache       *cache.Cache
	pending     bool   // True if waiting out an access latency
	pendingPC   uint64 // PC of the instruction being waited on
	pendingAddr uint64 // Address being waited on
	latency     uint64 // Remaining latency cycles
}

// NewCachedMemoryStage creates a new cached memory stage.
func NewCachedMemoryStage(dcache *cache.Cache) *CachedMemoryStage {
	return &CachedMemoryStage{
		cache: dcache,
	}
}

// Consult charges the D-cache access for the memory operation in EX/MEM.
// It returns true while the operation must stall. The architectural access
// happens at the memory bus once the stall clears.
func (s *CachedMemoryStage) Consult(exmem *EXMEMRegister) (stall bool) {
	if !exmem.Valid || (!exmem.MemRead && !exmem.MemWrite) {
		s.pending = false
		return false
	}

	addr := exmem.ALUResult

	// A different memory operation cancels any pending wait.
	if s.pending && (s.pendingPC != exmem.PC || s.pendingAddr != addr) {
		s.pending = false
		s.latency = 0
	}

	if s.pending {
		s.latency--
		if s.latency > 0 {
			return true
		}
		s.pending = false
		return false
	}

	if exmem.MemWrite && !exmem.MemRead {
		// Plain stores drain through the store buffer without stalling.
		s.cache.Write(addr)
		return false
	}

	result := s.cache.Read(addr)
	if exmem.MemWrite {
		// AMO and SC also write their line.
		s.cache.Write(addr)
	}
	if result.Latency <= 1 {
		return false
	}

	s.pending = true
	s.pendingPC = exmem.PC
	s.pendingAddr = addr
	s.latency = result.Latency - 1
	return true
}

// Reset clears pending state.
func (s *CachedMemoryStage) Reset() {
	s.pending = false
	s.latency = 0
}

// CacheStats returns the underlying cache statistics.
func (s *CachedMemoryStage) CacheStats() cache.Statistics {
	return s.cache.Stats()
}
