package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Hour)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", value)
}

func TestMemoryCache_EntryExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Hour).(*memoryCache)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", 30*time.Second))

	now = now.Add(29 * time.Second)
	_, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = c.Get(ctx, "k")
	require.False(t, ok)
}

func TestMemoryCache_MissingKey(t *testing.T) {
	c := NewMemoryCache(0, 0)
	value, ok, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, value)
}
