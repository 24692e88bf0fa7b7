package permdata

import (
	"context"

	"github.com/steve-o/hitsuji/utils/lru"
)

// Cache keeps recently used locks of a slower store. Misses are not cached.
type Cache struct {
	store Store
	lru   *lru.LRU[[]byte]
}

func NewCache(store Store, size int) *Cache {
	return &Cache{store: store, lru: lru.New[[]byte](size)}
}

func (c *Cache) Lookup(ctx context.Context, symbol string) ([]byte, error) {
	if lock, ok := c.lru.Get(symbol); ok {
		return lock, nil
	}
	lock, err := c.store.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.lru.Add(symbol, lock)
	return lock, nil
}

// Warm preloads locks, for example from Postgres.LookupMany.
func (c *Cache) Warm(m Memory) {
	for symbol, lock := range m {
		c.lru.Add(symbol, lock)
	}
}
