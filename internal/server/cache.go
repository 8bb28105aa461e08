package server

import (
	"container/list"
	"context"
	"sync"
	"time"

	"threatmap/internal/metrics"
)

// responseCache is an LRU cache with TTL for rendered API responses. Keys
// embed the snapshot cycle ID, so a new snapshot never serves stale bodies;
// the TTL only bounds how long superseded cycles occupy memory.
type responseCache struct {
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	items   map[string]*cacheItem
	lruList *list.List
}

type cacheItem struct {
	key       string
	value     []byte
	element   *list.Element
	expiresAt time.Time
}

func newResponseCache(maxSize int, ttl time.Duration) *responseCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &responseCache{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]*cacheItem),
		lruList: list.New(),
	}
}

func (c *responseCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	if c.now().After(item.expiresAt) {
		c.removeItem(item)
		metrics.CacheRequests.WithLabelValues("expired").Inc()
		return nil, false
	}

	c.lruList.MoveToFront(item.element)
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return item.value, true
}

func (c *responseCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		existing.value = value
		existing.expiresAt = c.now().Add(c.ttl)
		c.lruList.MoveToFront(existing.element)
		return
	}

	item := &cacheItem{key: key, value: value, expiresAt: c.now().Add(c.ttl)}
	item.element = c.lruList.PushFront(item)
	c.items[key] = item

	for len(c.items) > c.maxSize {
		c.removeItem(c.lruList.Back().Value.(*cacheItem))
	}
}

func (c *responseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *responseCache) removeItem(item *cacheItem) {
	delete(c.items, item.key)
	c.lruList.Remove(item.element)
}

// sweep drops expired entries and returns how many were removed.
func (c *responseCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []*cacheItem
	for _, item := range c.items {
		if now.After(item.expiresAt) {
			expired = append(expired, item)
		}
	}
	for _, item := range expired {
		c.removeItem(item)
	}
	return len(expired)
}

// janitor sweeps on every tick until ctx is done.
func (c *responseCache) janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}
