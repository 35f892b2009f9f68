// Package framecache keeps the most recent annotated frame per resolution.
package framecache

import (
	"sync"
	"time"

	"objectdetection/internal/model"
)

// Entry is one cached frame.
type Entry struct {
	Result   *model.DetectionResult
	Sequence uint64
	FrameID  string
	StoredAt time.Time
}

// Subscriber is notified of every accepted publish. It is called with the
// slot lock held, in sequence order, and must not block.
type Subscriber func(Entry)

type slot struct {
	mu    sync.RWMutex
	entry Entry
	set   bool
}

// Cache holds one slot per resolution. Slots are locked independently.
type Cache struct {
	slots map[model.Resolution]*slot

	subsMu sync.RWMutex
	subs   []Subscriber

	now func() time.Time
}

// New returns an empty cache.
func New() *Cache {
	c := &Cache{
		slots: make(map[model.Resolution]*slot, len(model.Resolutions)),
		now:   time.Now,
	}
	for _, res := range model.Resolutions {
		c.slots[res] = &slot{}
	}
	return c
}

// Subscribe registers fn for future publishes.
func (c *Cache) Subscribe(fn Subscriber) {
	c.subsMu.Lock()
	c.subs = append(c.subs, fn)
	c.subsMu.Unlock()
}

// Publish stores result if seq is newer than what the slot holds. It reports
// whether the entry was accepted; stale or duplicate sequences are dropped.
func (c *Cache) Publish(result *model.DetectionResult, seq uint64) bool {
	if result == nil {
		return false
	}
	s, ok := c.slots[result.Resolution]
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && seq <= s.entry.Sequence {
		return false
	}
	s.entry = Entry{
		Result:   result,
		Sequence: seq,
		FrameID:  result.IndexedFilename,
		StoredAt: c.now(),
	}
	s.set = true

	c.subsMu.RLock()
	for _, fn := range c.subs {
		fn(s.entry)
	}
	c.subsMu.RUnlock()
	return true
}

// Latest returns the newest entry for res.
func (c *Cache) Latest(res model.Resolution) (Entry, bool) {
	s, ok := c.slots[res]
	if !ok {
		return Entry{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry, s.set
}

// Snapshot returns the newest entry of every non-empty slot.
func (c *Cache) Snapshot() map[model.Resolution]Entry {
	out := make(map[model.Resolution]Entry, len(c.slots))
	for res := range c.slots {
		if e, ok := c.Latest(res); ok {
			out[res] = e
		}
	}
	return out
}
