package support

import "sync"

// identityCache keeps at most one value per key for the lifetime of the owning Service.
// The Service writes back every mutation it performs and drops entries the store no longer has.
type identityCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

func newIdentityCache[K comparable, V any]() *identityCache[K, V] {
	return &identityCache[K, V]{items: map[K]V{}}
}

func (c *identityCache[K, V]) get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *identityCache[K, V]) put(key K, value V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return value
}

// load returns the cached value or fetches, caches and returns it. Failed fetches are not cached.
func (c *identityCache[K, V]) load(key K, fetch func() (V, error)) (V, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	return c.put(key, v), nil
}

func (c *identityCache[K, V]) remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
