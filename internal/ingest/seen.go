package ingest

import "container/list"

// seenCache tracks (source, idem) pairs already fed to the fusion
// engine this session, LRU-capped. Unlike the
// bus's dedup cache (internal/bus/dedup.go) this has no TTL: once an
// envelope is ingested it must never be re-ingested while its key is
// still resident, only evicted by capacity.
type seenCache struct {
	max     int
	entries map[string]*list.Element
	order   *list.List
}

func newSeenCache(max int) *seenCache {
	return &seenCache{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// MarkSeen records key as seen, evicting the least-recently-used entry
// if the cache is at capacity. Returns true if key was already present.
func (c *seenCache) MarkSeen(key string) bool {
	if el, ok := c.entries[key]; ok {
		c.order.MoveToBack(el)
		return true
	}

	el := c.order.PushBack(key)
	c.entries[key] = el

	for c.order.Len() > c.max {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.order.Remove(front)
		delete(c.entries, front.Value.(string))
	}
	return false
}

// Len reports the current entry count.
func (c *seenCache) Len() int {
	return c.order.Len()
}
