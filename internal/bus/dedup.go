package bus

import (
	"container/list"
	"sync"
	"time"
)

// dedupCache is the bus's idempotency-key dedup gate: an
// LRU with per-entry TTL, capped at max entries. A hit moves the entry
// to the back (most-recently-used); expired entries are evicted lazily
// from the front on Seen.
type dedupCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	max      int
	elements map[string]*list.Element
	order    *list.List // front = oldest
	now      func() time.Time
}

type dedupEntry struct {
	key     string
	expires time.Time
}

func newDedupCache(ttl time.Duration, max int) *dedupCache {
	return &dedupCache{
		ttl:      ttl,
		max:      max,
		elements: make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Seen reports whether key was already recorded (and still live) and, if
// not, records it. It always evicts expired entries from the front first,
// then, if the cache is now at capacity, evicts the single oldest entry.
func (d *dedupCache) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.evictExpiredLocked(now)

	if el, ok := d.elements[key]; ok {
		entry := el.Value.(*dedupEntry)
		if entry.expires.After(now) {
			d.order.MoveToBack(el)
			return true
		}
		// Expired but not yet swept (race with evictExpiredLocked's
		// front-only sweep): treat as unseen and refresh below.
		d.order.Remove(el)
		delete(d.elements, key)
	}

	if d.order.Len() >= d.max {
		front := d.order.Front()
		if front != nil {
			d.order.Remove(front)
			delete(d.elements, front.Value.(*dedupEntry).key)
		}
	}

	el := d.order.PushBack(&dedupEntry{key: key, expires: now.Add(d.ttl)})
	d.elements[key] = el
	return false
}

func (d *dedupCache) evictExpiredLocked(now time.Time) {
	for {
		front := d.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*dedupEntry)
		if entry.expires.After(now) {
			return
		}
		d.order.Remove(front)
		delete(d.elements, entry.key)
	}
}

// Len returns the current entry count, for readiness/metrics.
func (d *dedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
