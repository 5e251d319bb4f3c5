package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok, "entry should expire after its TTL")
}

func TestFieldKeyEncodesVersion(t *testing.T) {
	t1 := time.Unix(100, 0)
	t2 := time.Unix(100, 1)
	k1 := FieldKey("t1", "messages", "m1", "content", t1)
	k2 := FieldKey("t1", "messages", "m1", "content", t2)
	assert.NotEqual(t, k1, k2, "mutation must produce a fresh cache key")

	assert.NotEqual(t,
		FieldKey("t1", "messages", "m1", "content", t1),
		FieldKey("t2", "messages", "m1", "content", t1),
		"tenants never share cache entries")
}
