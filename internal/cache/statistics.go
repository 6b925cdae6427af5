package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// counter pairs a creation count with the cumulative bytes of one cache kind.
type counter struct {
	mu    sync.Mutex
	count int64
	size  int64
}

func (c *counter) add(n int64) {
	c.mu.Lock()
	c.count++
	c.size += n
	c.mu.Unlock()
}

func (c *counter) load() (count, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.size
}

// Statistics tracks how many caches of each kind were created and how many
// bytes they held. It is safe for concurrent use.
type Statistics struct {
	enabled atomic.Bool
	memory  counter
	spool   counter
}

// StatisticsSnapshot is a point-in-time view of Statistics. Each count/size
// pair is consistent; the two kinds may be read at slightly different times.
type StatisticsSnapshot struct {
	MemoryCounter     int64 `json:"memory_counter" yaml:"memory_counter"`
	MemorySize        int64 `json:"memory_size" yaml:"memory_size"`
	MemoryAverageSize int64 `json:"memory_average_size" yaml:"memory_average_size"`
	SpoolCounter      int64 `json:"spool_counter" yaml:"spool_counter"`
	SpoolSize         int64 `json:"spool_size" yaml:"spool_size"`
	SpoolAverageSize  int64 `json:"spool_average_size" yaml:"spool_average_size"`
}

// NewStatistics returns disabled, zeroed statistics.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// RecordMemory counts one in-memory cache of n bytes. No-op when disabled.
func (s *Statistics) RecordMemory(n int64) {
	if s.enabled.Load() {
		s.memory.add(n)
	}
}

// RecordSpool counts one spooled cache of n bytes. No-op when disabled.
func (s *Statistics) RecordSpool(n int64) {
	if s.enabled.Load() {
		s.spool.add(n)
	}
}

// Snapshot returns the current counters and derived averages.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	memCount, memSize := s.memory.load()
	spoolCount, spoolSize := s.spool.load()
	return StatisticsSnapshot{
		MemoryCounter:     memCount,
		MemorySize:        memSize,
		MemoryAverageSize: average(memSize, memCount),
		SpoolCounter:      spoolCount,
		SpoolSize:         spoolSize,
		SpoolAverageSize:  average(spoolSize, spoolCount),
	}
}

// Reset zeroes both counters.
func (s *Statistics) Reset() {
	s.memory.mu.Lock()
	s.spool.mu.Lock()
	s.memory.count, s.memory.size = 0, 0
	s.spool.count, s.spool.size = 0, 0
	s.spool.mu.Unlock()
	s.memory.mu.Unlock()
}

// SetEnabled turns recording on or off. Disabling keeps the current values.
func (s *Statistics) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled reports whether recording is on.
func (s *Statistics) Enabled() bool {
	return s.enabled.Load()
}

// String implements fmt.Stringer.
func (s *Statistics) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf("[memoryCounter=%d, memorySize=%d, memoryAverageSize=%d, spoolCounter=%d, spoolSize=%d, spoolAverageSize=%d]",
		snap.MemoryCounter, snap.MemorySize, snap.MemoryAverageSize,
		snap.SpoolCounter, snap.SpoolSize, snap.SpoolAverageSize)
}

func average(size, count int64) int64 {
	if count == 0 {
		return 0
	}
	return size / count
}
