package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewFromClient(client)
}

func TestSetAddRemoveMembers(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetAdd(ctx, "k", "a", "b"))
	members, err := c.SetMembers(ctx, "k")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, c.SetRemove(ctx, "k", "a"))
	members, err = c.SetMembers(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members)
}

func TestHashSetGetAllDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.HashSet(ctx, "h", "f1", "v1"))
	require.NoError(t, c.HashSet(ctx, "h", "f2", "v2"))

	vals, err := c.HashGetAll(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, vals)

	require.NoError(t, c.HashDelete(ctx, "h", "f1"))
	vals, err = c.HashGetAll(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"f2": "v2"}, vals)
}

func TestListPushCappedTrimsOldestEntries(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.ListPushCapped(ctx, "l", string(rune('a'+i)), 3))
	}

	vals, err := c.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Len(t, vals, 3, "list must be capped to the most recent 3 entries")
	require.Equal(t, "e", vals[0], "most recently pushed entry is at the head")
}

func TestIncrementReturnsNewValue(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	v, err := c.Increment(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = c.Increment(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
}

func TestDisabledCacheIsSafeNoOp(t *testing.T) {
	c := NewFromClient(nil)
	ctx := context.Background()

	require.False(t, c.IsEnabled())
	require.NoError(t, c.SetAdd(ctx, "k", "v"))
	members, err := c.SetMembers(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, members)

	_, err = c.Increment(ctx, "k")
	require.Error(t, err, "a disabled store cannot provide atomic counters, so rate limiting fails open instead")
}
