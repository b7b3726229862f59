package payroll

import "time"

// RuleSetCache caches resolved effective rule sets per structure, so a
// batch run does not re-walk the inheritance chain and re-sort for every
// payslip. Implementations must be safe for concurrent use.
type RuleSetCache interface {
	// Get retrieves the cached effective rule set for a structure,
	// nil on miss or expiry.
	Get(structureCode string) []*Rule

	// Set stores the resolved rule set for a structure.
	Set(structureCode string, rules []*Rule)

	// Invalidate clears the cache, forcing re-resolution on next Get.
	// Called whenever configuration changes.
	Invalidate()
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults used by the engine: no TTL,
// invalidation only on configuration mutations.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
