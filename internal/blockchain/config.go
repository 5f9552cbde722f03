package blockchain

import "time"

// AdmissionConfig controls range oracle calls and the admission comparison.
type AdmissionConfig struct {
	// SortPrecision is the number of decimal digits of the range scale:
	// positions fall in [0, 10^SortPrecision).
	SortPrecision uint16
	CallTimeout   time.Duration
	// CacheTTL enables caching assignments per address; zero re-queries
	// the oracle on every decision.
	CacheTTL  time.Duration
	CacheSize int
}

// DefaultAdmissionConfig provides sensible defaults for admission behaviour.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		SortPrecision: 4,
		CallTimeout:   10 * time.Second,
		CacheTTL:      0,
		CacheSize:     256,
	}
}

// MaxSortPrecision keeps 10^precision within the 256-bit hash space.
const MaxSortPrecision = 77

func (c *AdmissionConfig) normalize() {
	def := DefaultAdmissionConfig()
	if c.SortPrecision == 0 {
		c.SortPrecision = def.SortPrecision
	}
	if c.SortPrecision > MaxSortPrecision {
		c.SortPrecision = MaxSortPrecision
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.CacheTTL < 0 {
		c.CacheTTL = 0
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
}
