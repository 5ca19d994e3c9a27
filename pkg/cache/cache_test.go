package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	V float64   `json:"v"`
	X []float64 `json:"x"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	in := point{V: 18, X: []float64{1, 2}}
	require.NoError(t, c.Set(ctx, "a", in, time.Minute))
	in.X[0] = 99

	got, err := GetTyped[point](ctx, c, "a")
	require.NoError(t, err)
	assert.Equal(t, point{V: 18, X: []float64{1, 2}}, got)

	require.NoError(t, c.Set(ctx, "s", "plain", 0))
	var s string
	require.NoError(t, c.Get(ctx, "s", &s))
	assert.Equal(t, "plain", s)

	require.NoError(t, c.Delete(ctx, "a", "s"))
	assert.ErrorIs(t, c.Get(ctx, "a", &got), ErrCacheMiss)
	assert.Zero(t, c.Len())
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(WithMemoryCleanup(time.Hour))
	require.NoError(t, c.Set(ctx, "k", 1, time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	var v int
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestMemoryCacheLocks(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	ok, err := c.TryLock(ctx, "job:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = c.TryLock(ctx, "job:1", time.Minute)
	assert.False(t, ok)

	require.NoError(t, c.Unlock(ctx, "job:1"))
	ok, _ = c.TryLock(ctx, "job:1", time.Minute)
	assert.True(t, ok)
}

// countingCache records L2 traffic.
type countingCache struct {
	*MemoryCache
	gets int
	err  error
}

func (c *countingCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.gets++
	if c.err != nil {
		return c.err
	}
	return c.MemoryCache.Get(ctx, key, dest)
}

func (c *countingCache) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	if c.err != nil {
		return c.err
	}
	return c.MemoryCache.Set(ctx, key, value, exp)
}

func TestLayeredCachePromotesFromL2(t *testing.T) {
	ctx := context.Background()
	l2 := &countingCache{MemoryCache: NewMemoryCache()}
	lc := NewLayeredCache(l2, time.Minute)

	require.NoError(t, l2.MemoryCache.Set(ctx, "k", point{V: 3}, 0))

	var p point
	require.NoError(t, lc.Get(ctx, "k", &p))
	assert.Equal(t, 3.0, p.V)
	require.NoError(t, lc.Get(ctx, "k", &p))
	assert.Equal(t, 1, l2.gets, "second read served from memory")

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &p), ErrCacheMiss)

	ok, err := lc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l2.TryLock(ctx, "lock", time.Minute)
	assert.False(t, ok, "locks are held in L2")
	require.NoError(t, lc.Close())
}

func TestLayeredCacheWriteThroughFailure(t *testing.T) {
	ctx := context.Background()
	down := errors.New("down")
	l2 := &countingCache{MemoryCache: NewMemoryCache(), err: down}
	lc := NewLayeredCache(l2, time.Minute)

	assert.ErrorIs(t, lc.Set(ctx, "k", 1, time.Minute), down)
	var v int
	assert.ErrorIs(t, lc.Get(ctx, "k", &v), down)
}

func TestLayeredTTL(t *testing.T) {
	lc := &LayeredCache{l1TTL: time.Minute}
	assert.Equal(t, time.Second, lc.ttl(time.Second))
	assert.Equal(t, time.Minute, lc.ttl(time.Hour))
	assert.Equal(t, time.Minute, lc.ttl(0))
}

func TestDigest(t *testing.T) {
	a, err := Digest(point{V: 1, X: []float64{2}})
	require.NoError(t, err)
	b, _ := Digest(point{V: 1, X: []float64{2}})
	c, _ := Digest(point{V: 1, X: []float64{3}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	_, err = Digest(make(chan int))
	assert.Error(t, err)
	assert.Equal(t, "fit:abc", GenerateKey("fit", "abc"))
}
