package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), NoExpiration))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestInMemoryCache_Expiration(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryCache_Prefix(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	require.NoError(t, c.Set(ctx, GenerateKey(PrefixExchangeRate, "EUR_RON"), []byte("1"), NoExpiration))
	require.NoError(t, c.Set(ctx, GenerateKey(PrefixExchangeRate, "USD_RON"), []byte("2"), NoExpiration))
	require.NoError(t, c.Set(ctx, "other", []byte("3"), NoExpiration))

	keys, err := c.Keys(ctx, PrefixExchangeRate)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"exchange_rate:v1:EUR_RON", "exchange_rate:v1:USD_RON"}, keys)

	require.NoError(t, c.DeleteByPrefix(ctx, PrefixExchangeRate))
	keys, err = c.Keys(ctx, PrefixExchangeRate)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, ok, _ := c.Get(ctx, "other")
	assert.True(t, ok)
}
