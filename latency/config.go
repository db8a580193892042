package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds execute-stage latency values for the operation
// classes, modeled after a small in-order RISC-V core.
type TimingConfig struct {
	// ALULatency is the execution latency for integer ALU operations.
	// Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency"`

	// BranchLatency is the execution latency for branches and jumps.
	// This does not include the squash penalty of a taken redirect.
	// Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency"`

	// LoadLatency is the execute-stage latency of loads (address
	// generation); the memory access itself happens at MEM.
	// Default: 1 cycle.
	LoadLatency uint64 `json:"load_latency"`

	// StoreLatency is the execute-stage latency of stores.
	// Default: 1 cycle.
	StoreLatency uint64 `json:"store_latency"`

	// MultiplyLatency is the latency of integer multiply operations.
	// Default: 3 cycles.
	MultiplyLatency uint64 `json:"multiply_latency"`

	// DivideLatency is the latency of integer divide and remainder
	// operations. Default: 32 cycles.
	DivideLatency uint64 `json:"divide_latency"`

	// SyscallLatency is the latency of environment calls (handling is
	// external). Default: 1 cycle.
	SyscallLatency uint64 `json:"syscall_latency"`
}

// DefaultTimingConfig returns a TimingConfig with default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:      1,
		BranchLatency:   1,
		LoadLatency:     1,
		StoreLatency:    1,
		MultiplyLatency: 3,
		DivideLatency:   32,
		SyscallLatency:  1,
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Missing fields keep
// their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode timing config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}
	return nil
}
