package symlinker

import "sync"

// fifoCache is a bounded string set with FIFO eviction, used to amortize
// repeated path resolutions and folder creations.
type fifoCache struct {
	mu    sync.Mutex
	limit int
	order []string
	items map[string]string
}

func newFifoCache(limit int) *fifoCache {
	return &fifoCache{
		limit: limit,
		items: make(map[string]string, limit),
	}
}

func (c *fifoCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *fifoCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; ok {
		c.items[key] = value
		return
	}
	if len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.order = append(c.order, key)
	c.items[key] = value
}
