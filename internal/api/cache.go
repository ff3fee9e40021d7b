package api

import (
	"sync"
	"time"
)

const registrationTTL = 5 * time.Minute

// registration is a freshly relayed deposit, cached so status checks can
// answer before the position is readable through the registry.
type registration struct {
	SuiAddress  string
	Amount      uint64
	SuiTxDigest string
	recordedAt  time.Time
}

type registrationCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]registration
	now     func() time.Time
}

func newRegistrationCache(ttl time.Duration) *registrationCache {
	return &registrationCache{
		ttl:     ttl,
		entries: make(map[string]registration),
		now:     time.Now,
	}
}

func (c *registrationCache) Mark(stacksAddress, suiAddress string, amount uint64, suiTxDigest string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune()
	c.entries[stacksAddress] = registration{
		SuiAddress:  suiAddress,
		Amount:      amount,
		SuiTxDigest: suiTxDigest,
		recordedAt:  c.now(),
	}
}

func (c *registrationCache) Get(stacksAddress string) (registration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[stacksAddress]
	if !ok {
		return registration{}, false
	}
	if c.now().Sub(entry.recordedAt) > c.ttl {
		delete(c.entries, stacksAddress)
		return registration{}, false
	}
	return entry, true
}

// prune drops expired entries; called under c.mu.
func (c *registrationCache) prune() {
	cutoff := c.now().Add(-c.ttl)
	for key, entry := range c.entries {
		if entry.recordedAt.Before(cutoff) {
			delete(c.entries, key)
		}
	}
}
