package subscription

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bricerising/tablegate/internal/cache"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(cache.NewFromClient(client))
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	idx.Subscribe(ctx, "c1", "table:T1")

	subs, err := idx.Subscribers(ctx, "table:T1")
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, subs)

	idx.Unsubscribe(ctx, "c1", "table:T1")

	subs, err = idx.Subscribers(ctx, "table:T1")
	require.NoError(t, err)
	require.Empty(t, subs)

	remaining, err := idx.store.SetMembers(ctx, reverseKey("c1"))
	require.NoError(t, err)
	require.Empty(t, remaining, "reverse set must have no trace of the channel either")
}

func TestUnsubscribeAllClearsEveryForwardSet(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	idx.Subscribe(ctx, "c1", "lobby")
	idx.Subscribe(ctx, "c1", "table:T1")
	idx.Subscribe(ctx, "c1", "chat:T1")

	require.NoError(t, idx.UnsubscribeAll(ctx, "c1"))

	for _, channel := range []string{"lobby", "table:T1", "chat:T1"} {
		subs, err := idx.Subscribers(ctx, channel)
		require.NoError(t, err)
		require.Emptyf(t, subs, "channel %s should have no subscribers left", channel)
	}
}

func TestUnsubscribeAllIsIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	idx.Subscribe(ctx, "c1", "lobby")
	require.NoError(t, idx.UnsubscribeAll(ctx, "c1"))
	require.NoError(t, idx.UnsubscribeAll(ctx, "c1"), "a second call on an already-clean conn must still succeed")
}

func TestSubscribersOnUnknownChannelIsEmptyNotError(t *testing.T) {
	idx := newTestIndex(t)
	subs, err := idx.Subscribers(context.Background(), "table:nope")
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestForwardReverseInvariantAcrossMultipleConns(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	idx.Subscribe(ctx, "c1", "table:T1")
	idx.Subscribe(ctx, "c2", "table:T1")

	subs, err := idx.Subscribers(ctx, "table:T1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c1", "c2"}, subs)

	idx.Unsubscribe(ctx, "c1", "table:T1")

	subs, err = idx.Subscribers(ctx, "table:T1")
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, subs)
}
