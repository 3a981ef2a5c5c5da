package od

import (
	"sync"
	"time"
)

// Value is a cached dictionary value. Valid is false until the
// value has been received at least once, or after an invalidation.
type Value struct {
	Raw     int32
	Valid   bool
	Updated time.Time
}

// Cache holds the last known values of a remote object dictionary.
// It is written by the reception path and read concurrently by everyone else.
// Raw value and validity are always read together under the same lock.
type Cache struct {
	mu     sync.RWMutex
	values map[Key]Value
}

func NewCache() *Cache {
	return &Cache{values: make(map[Key]Value)}
}

func (c *Cache) Set(entry Entry, raw int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[entry.Key()] = Value{Raw: raw, Valid: true, Updated: time.Now()}
}

// Get returns the value and whether it is valid
func (c *Cache) Get(entry Entry) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := c.values[entry.Key()]
	return v.Raw, v.Valid
}

// Lookup returns the full cached value, including its update time
func (c *Cache) Lookup(entry Entry) Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[entry.Key()]
}

// Raw returns the last known value, possibly stale or never received
func (c *Cache) Raw(entry Entry) int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[entry.Key()].Raw
}

// Invalidate keeps the last raw value but marks it as not valid
func (c *Cache) Invalidate(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[entry.Key()]
	if !ok {
		return
	}
	v.Valid = false
	c.values[entry.Key()] = v
}

// Snapshot returns a copy of every cached value
func (c *Cache) Snapshot() map[Key]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[Key]Value, len(c.values))
	for k, v := range c.values {
		snapshot[k] = v
	}
	return snapshot
}
