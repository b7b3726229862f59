package payroll

import (
	"sync"
	"time"
)

// InMemoryRuleSetCache is a simple in-memory implementation of
// RuleSetCache, thread-safe for concurrent access.
type InMemoryRuleSetCache struct {
	entries map[string]ruleSetEntry
	config  CacheConfig
	mu      sync.RWMutex
}

type ruleSetEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// NewInMemoryRuleSetCache creates a new in-memory rule set cache.
func NewInMemoryRuleSetCache(config CacheConfig) *InMemoryRuleSetCache {
	return &InMemoryRuleSetCache{
		entries: make(map[string]ruleSetEntry),
		config:  config,
	}
}

// Get retrieves the cached rule set for a structure.
// Returns nil if absent or expired.
func (c *InMemoryRuleSetCache) Get(structureCode string) []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[structureCode]
	if !ok {
		return nil
	}

	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil
	}

	// Return copy to prevent external modifications
	rulesCopy := make([]*Rule, len(entry.rules))
	copy(rulesCopy, entry.rules)
	return rulesCopy
}

// Set stores the resolved rule set for a structure.
func (c *InMemoryRuleSetCache) Set(structureCode string, rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy to prevent external modifications
	rulesCopy := make([]*Rule, len(rules))
	copy(rulesCopy, rules)
	c.entries[structureCode] = ruleSetEntry{
		rules:    rulesCopy,
		cachedAt: time.Now(),
	}
}

// Invalidate clears every cached rule set.
func (c *InMemoryRuleSetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]ruleSetEntry)
}
