package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps JSON-encoded values in process. Values are copied on
// both Set and Get, so callers never share slices with the cache.
type MemoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		DefaultTTL:      time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &MemoryCache{c: gocache.New(cfg.DefaultTTL, cfg.CleanupInterval)}
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case *[]byte:
		return append([]byte(nil), (*v)...), nil
	case string:
		return []byte(v), nil
	case *string:
		return []byte(*v), nil
	default:
		return json.Marshal(value)
	}
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append([]byte(nil), data...)
		return nil
	default:
		return json.Unmarshal(data, dest)
	}
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.c.Set(key, data, expiration)
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	v, ok := m.c.Get(key)
	if !ok {
		return ErrCacheMiss
	}
	return decode(v.([]byte), dest)
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

// TryLock succeeds only if key is not already held.
func (m *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := m.c.Add(key, []byte("locked"), ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemoryCache) Unlock(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Len reports the number of stored items, expired ones included until the
// next cleanup.
func (m *MemoryCache) Len() int {
	return m.c.ItemCount()
}

func (m *MemoryCache) Close() error {
	m.c.Flush()
	return nil
}
