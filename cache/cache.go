// Package cache provides L1 cache timing models built on Akita cache
// components. The caches are a timing overlay for the pipeline: they decide
// how many cycles a fetch or data access stalls, while the architectural
// data path stays on the memory bus.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes
	Size int
	// Associativity (number of ways)
	Associativity int
	// BlockSize in bytes (cache line size)
	BlockSize int
	// HitLatency in cycles
	HitLatency uint64
	// MissLatency in cycles (includes memory access time)
	MissLatency uint64
}

// DefaultL1IConfig returns a default L1 instruction cache configuration,
// sized like the icache of a small in-order RISC-V core.
func DefaultL1IConfig() Config {
	return Config{
		Size:          16 * 1024, // 16KB
		Associativity: 2,         // 2-way
		BlockSize:     64,        // 64B cache line
		HitLatency:    1,         // 1 cycle
		MissLatency:   20,        // ~20 cycles to memory
	}
}

// DefaultL1DConfig returns a default L1 data cache configuration.
func DefaultL1DConfig() Config {
	return Config{
		Size:          16 * 1024, // 16KB
		Associativity: 4,         // 4-way
		BlockSize:     64,        // 64B cache line
		HitLatency:    1,         // 1 cycle
		MissLatency:   20,        // ~20 cycles to memory
	}
}

// AccessResult contains the result of a cache access.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// Latency is the number of cycles this access takes.
	Latency uint64
	// Evicted is true if a valid block (dirty or clean) was evicted.
	Evicted bool
	// EvictedAddr is the address of the evicted block (if Evicted is true).
	EvictedAddr uint64
}

// Cache models an L1 cache using Akita cache components.
type Cache struct {
	// Configuration
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Statistics
	stats Statistics
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads     uint64
	Writes    uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// New creates a new cache with the given configuration.
func New(config Config) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

// Read performs a cache read access and returns its timing.
func (c *Cache) Read(addr uint64) AccessResult {
	c.stats.Reads++
	return c.access(addr, false)
}

// Write performs a cache write access and returns its timing. The policy is
// write-allocate: on miss the block is fetched first, then marked dirty.
func (c *Cache) Write(addr uint64) AccessResult {
	c.stats.Writes++
	return c.access(addr, true)
}

// access looks up the block-aligned address, visiting on hit and filling a
// victim block on miss.
func (c *Cache) access(addr uint64, isWrite bool) AccessResult {
	blockAddr := (addr / uint64(c.config.BlockSize)) * uint64(c.config.BlockSize)

	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		if isWrite {
			block.IsDirty = true
		}
		return AccessResult{Hit: true, Latency: c.config.HitLatency}
	}

	// Cache miss: fill a victim block.
	c.stats.Misses++
	result := AccessResult{Hit: false, Latency: c.config.MissLatency}

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return result
	}

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag
	}

	// Tag stores the block-aligned address.
	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = isWrite

	c.directory.Visit(victim)
	return result
}

// Invalidate marks a cache line as invalid.
func (c *Cache) Invalidate(addr uint64) {
	blockAddr := (addr / uint64(c.config.BlockSize)) * uint64(c.config.BlockSize)
	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Reset invalidates all cache lines.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}
