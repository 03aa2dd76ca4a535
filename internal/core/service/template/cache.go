// Package template holds the process-local template binary cache and the
// load-through helper that fills it from the record store.
package template

import (
	"container/list"
	"sync"

	"github.com/rendis/docgen-engine/internal/core/port"
)

type cacheEntry struct {
	id   string
	data []byte
}

// Cache is a content-addressed byte cache with strict LRU eviction bounded
// by total size. Keys are immutable: a second Put for an existing key is a
// no-op. An entry larger than the cap is admitted and stands alone.
type Cache struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	order    *list.List // front = most recently used
	entries  map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewCache creates a cache bounded to maxBytes.
func NewCache(maxBytes int64) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns the cached bytes and bumps recency.
func (c *Cache) Get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	if !ok {
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*cacheEntry).data, true
}

// Put admits data under id, evicting least-recently-used entries until the
// new entry fits. Existing keys are left untouched.
func (c *Cache) Put(id string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		return
	}

	incoming := int64(len(data))
	for c.size+incoming > c.maxBytes && c.order.Len() > 0 {
		c.evictOldest()
	}

	el := c.order.PushFront(&cacheEntry{id: id, data: data})
	c.entries[id] = el
	c.size += incoming
}

func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, entry.id)
	c.size -= int64(len(entry.data))
	c.evictions++
}

// Stats returns a point-in-time snapshot.
func (c *Cache) Stats() port.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return port.CacheStats{
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		SizeBytes:  c.size,
		EntryCount: c.order.Len(),
	}
}
