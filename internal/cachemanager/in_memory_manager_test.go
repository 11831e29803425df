package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCacheManager(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string]("test", time.Minute, time.Minute)

	_, ok := cache.Get(ctx, "missing")
	assert.False(t, ok)

	cache.Set(ctx, "k", "v", 0)
	got, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
	assert.Equal(t, 1, cache.Len())

	cache.Delete(ctx, "k")
	_, ok = cache.Get(ctx, "k")
	assert.False(t, ok)

	cache.Set(ctx, "a", "1", 0)
	cache.Set(ctx, "b", "2", 0)
	cache.Flush(ctx)
	assert.Equal(t, 0, cache.Len())
}

func TestInMemoryCacheManagerExpires(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[int]("test", time.Minute, time.Minute)

	cache.Set(ctx, "short", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok := cache.Get(ctx, "short")
	assert.False(t, ok)
}
