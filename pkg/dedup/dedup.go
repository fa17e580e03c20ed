// Package dedup drops QoS1 redeliveries: a broker may redeliver an
// inbound config or command message, and applying it twice must be a
// no-op.
package dedup

import (
	"sync"
	"time"
)

// Deduper remembers recently seen ids for a TTL, with a hard cap on
// retained entries.
type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time, max)}
}

// Seen records id and reports whether it was already seen within the
// TTL. An empty id is never deduplicated.
func (d *Deduper) Seen(id string) bool {
	if id == "" {
		return false
	}
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return true
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
	return false
}

// evict removes expired entries first; if the map is still over cap
// (all entries fresh), arbitrary entries go. Called with mu held.
func (d *Deduper) evict(now time.Time) {
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	for k := range d.seen {
		if len(d.seen) <= d.max {
			break
		}
		delete(d.seen, k)
	}
}
