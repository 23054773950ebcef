// Package keypool manages a pool of API keys for a single upstream backend,
// rotating to the next usable key after quota or auth failures.
package keypool

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Pool holds an ordered set of credentials and a cursor into it. Keys marked
// exhausted are skipped by Rotate until every key has been exhausted, at which
// point the exhausted set is cleared and rotation starts a new epoch at
// index 0.
type Pool struct {
	mu        sync.Mutex
	name      string
	keys      []string
	current   int
	exhausted map[int]struct{}
}

// New builds a pool for the named backend. Blank entries and duplicates are
// dropped; first-seen order is preserved.
func New(name string, keys []string) *Pool {
	seen := make(map[string]struct{}, len(keys))
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		cleaned = append(cleaned, k)
	}
	return &Pool{
		name:      name,
		keys:      cleaned,
		exhausted: make(map[int]struct{}),
	}
}

// Current returns the key at the cursor. A cursor left out of range by a
// concurrent reset is clamped to 0. ok is false only for an empty pool.
func (p *Pool) Current() (key string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", false
	}
	if p.current >= len(p.keys) {
		p.current = 0
	}
	return p.keys[p.current], true
}

// Rotate marks the current key exhausted and advances to the next usable one,
// wrapping around. When every key is exhausted the set is cleared and the
// first key is selected again. ok is false only for an empty pool.
func (p *Pool) Rotate(reason string) (key string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", false
	}

	p.exhausted[p.current] = struct{}{}
	for i := 0; i < len(p.keys); i++ {
		next := (p.current + 1 + i) % len(p.keys)
		if _, used := p.exhausted[next]; used {
			continue
		}
		p.current = next
		log.WithFields(log.Fields{
			"pool":   p.name,
			"key":    p.current + 1,
			"reason": reason,
		}).Info("switched API key")
		return p.keys[p.current], true
	}

	log.WithField("pool", p.name).Warn("all API keys exhausted, resetting rotation")
	p.exhausted = make(map[int]struct{})
	p.current = 0
	return p.keys[0], true
}

// ResetExhausted clears exhaustion tracking without moving the cursor.
func (p *Pool) ResetExhausted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exhausted = make(map[int]struct{})
}

// Count returns the number of keys in the pool.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Ordinal returns the 1-based position of the current key, for log lines.
func (p *Pool) Ordinal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current + 1
}

// HasKeys reports whether the pool holds at least one key.
func (p *Pool) HasKeys() bool {
	return p.Count() > 0
}

// HasMoreKeys reports whether any key has not been exhausted in the current
// rotation epoch.
func (p *Pool) HasMoreKeys() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.exhausted) < len(p.keys)
}
