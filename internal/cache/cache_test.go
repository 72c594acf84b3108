package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryCache_SetGetRoundTrip(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", val)
}

func TestInMemoryCache_ExpiredEntryIsMiss(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", -time.Second))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInMemoryCache_MissingKeyIsMiss(t *testing.T) {
	c := NewInMemoryCache()
	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.False(t, ok)
}
