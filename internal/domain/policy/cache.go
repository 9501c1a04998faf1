package policy

import (
	"encoding/json"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const decisionCacheMax = 4096

// decisionCache memoizes validation outcomes per (state generation, mode,
// tool, arguments). Any state change bumps the generation, so entries from
// a previous mode, scope, or health snapshot can never be served again.
type decisionCache struct {
	mu      sync.Mutex
	entries map[uint64]*Violation
	hits    uint64
	misses  uint64
}

func newDecisionCache() *decisionCache {
	return &decisionCache{entries: make(map[uint64]*Violation)}
}

// key hashes the full decision input. A marshal failure (unhashable
// argument value) disables caching for that call.
func (c *decisionCache) key(generation uint64, mode, tool string, args map[string]any) (uint64, bool) {
	payload, err := json.Marshal(args)
	if err != nil {
		return 0, false
	}

	h := xxhash.New()
	var gen [8]byte
	for i := 0; i < 8; i++ {
		gen[i] = byte(generation >> (8 * i))
	}
	_, _ = h.Write(gen[:])
	_, _ = h.WriteString(mode)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(tool)
	_, _ = h.WriteString("\x00")
	_, _ = h.Write(payload)
	return h.Sum64(), true
}

func (c *decisionCache) get(key uint64) (*Violation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

func (c *decisionCache) put(key uint64, v *Violation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= decisionCacheMax {
		// Wholesale reset beats tracking recency for a cache this cheap to refill.
		c.entries = make(map[uint64]*Violation)
	}
	c.entries[key] = v
}

// Stats returns cumulative hit and miss counts.
func (c *decisionCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
