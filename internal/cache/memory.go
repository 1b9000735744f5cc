package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/utils"
)

const (
	defaultMemorySize   = 10000
	defaultMemoryMaxTTL = 24 * time.Hour
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// memoryCache keeps entries in process. The LRU evicts at maxTTL at the latest; the
// per-entry expiry is checked on read.
type memoryCache struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

func NewMemoryCache(size int, maxTTL time.Duration) interfaces.TTLCache {
	if size <= 0 {
		size = defaultMemorySize
	}
	if maxTTL <= 0 {
		maxTTL = defaultMemoryMaxTTL
	}
	return &memoryCache{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now: utils.Now,
	}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.lru.Remove(key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		c.lru.Remove(key)
		return nil
	}
	c.lru.Add(key, memoryEntry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}
