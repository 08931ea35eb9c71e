package disk

import (
	"container/list"
)

// DefaultCacheSize is the number of blocks a Disk caches by default.
const DefaultCacheSize = 30

// Cache is a fixed capacity, least recently used, block cache. It is not
// safe for concurrent use.
type Cache struct {
	entries map[int]*list.Element
	order   *list.List
	limit   int
}

type cacheEntry struct {
	data  []byte
	block int
}

// NewCache creates a cache holding at most limit blocks. A limit below one
// is treated as one.
func NewCache(limit int) *Cache {
	return &Cache{
		entries: make(map[int]*list.Element),
		order:   list.New(),
		limit:   max(limit, 1),
	}
}

// Len returns the number of cached blocks.
func (x *Cache) Len() int {
	return x.order.Len()
}

// Get returns the cached contents of block, marking it most recently used.
// The returned slice must not be modified.
func (x *Cache) Get(block int) ([]byte, bool) {
	e, ok := x.entries[block]
	if !ok {
		return nil, false
	}
	x.order.MoveToFront(e)
	return e.Value.(*cacheEntry).data, true
}

// Put caches data as the contents of block, evicting the least recently
// used block if the cache is full. The cache takes ownership of data.
func (x *Cache) Put(block int, data []byte) {
	if e, ok := x.entries[block]; ok {
		e.Value.(*cacheEntry).data = data
		x.order.MoveToFront(e)
		return
	}
	x.entries[block] = x.order.PushFront(&cacheEntry{block: block, data: data})
	for x.order.Len() > x.limit {
		last := x.order.Back()
		x.order.Remove(last)
		delete(x.entries, last.Value.(*cacheEntry).block)
	}
}

// Remove evicts block, reporting whether it was cached.
func (x *Cache) Remove(block int) bool {
	e, ok := x.entries[block]
	if !ok {
		return false
	}
	x.order.Remove(e)
	delete(x.entries, block)
	return true
}
