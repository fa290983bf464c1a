// Package subscription implements the shared subscription index: the
// forward (channel -> conn ids) and reverse (conn id -> channels) Redis
// sets that let any gateway instance resolve who is listening on a
// channel, and let a disconnecting socket clean up every channel it ever
// joined without having remembered them itself.
//
// Writes are best-effort and not transactional: a transient mismatch
// between the two sets is tolerated and resolved by UnsubscribeAll at
// disconnect.
package subscription

import (
	"context"
	"fmt"

	"github.com/bricerising/tablegate/internal/cache"
	"github.com/bricerising/tablegate/internal/logger"
)

const (
	forwardPrefix = "gateway:subscriptions:"
	reversePrefix = "conn_subs:"
)

func forwardKey(channel string) string { return forwardPrefix + channel }
func reverseKey(connID string) string  { return reversePrefix + connID }

// Index is the subscription index.
type Index struct {
	store *cache.Cache
}

// New wraps store as a subscription index.
func New(store *cache.Cache) *Index {
	return &Index{store: store}
}

// Subscribe adds (connID, channel) to both the forward and reverse sets.
// Failures are logged, never returned: callers never fail a client
// request because the shared index write didn't land.
func (idx *Index) Subscribe(ctx context.Context, connID, channel string) {
	if err := idx.store.SetAdd(ctx, forwardKey(channel), connID); err != nil {
		logger.WebSocket().Warn().Err(err).Str("channel", channel).Str("connId", connID).Msg("subscribe: forward write failed")
	}
	if err := idx.store.SetAdd(ctx, reverseKey(connID), channel); err != nil {
		logger.WebSocket().Warn().Err(err).Str("channel", channel).Str("connId", connID).Msg("subscribe: reverse write failed")
	}
}

// Unsubscribe removes (connID, channel) from both sets.
func (idx *Index) Unsubscribe(ctx context.Context, connID, channel string) {
	if err := idx.store.SetRemove(ctx, forwardKey(channel), connID); err != nil {
		logger.WebSocket().Warn().Err(err).Str("channel", channel).Str("connId", connID).Msg("unsubscribe: forward write failed")
	}
	if err := idx.store.SetRemove(ctx, reverseKey(connID), channel); err != nil {
		logger.WebSocket().Warn().Err(err).Str("channel", channel).Str("connId", connID).Msg("unsubscribe: reverse write failed")
	}
}

// UnsubscribeAll reads connID's reverse set, removes connID from every
// channel's forward set, then deletes the reverse set. This is the
// convergence point the rest of the index relies on to clean up
// transient inconsistency.
func (idx *Index) UnsubscribeAll(ctx context.Context, connID string) error {
	channels, err := idx.store.SetMembers(ctx, reverseKey(connID))
	if err != nil {
		return fmt.Errorf("subscription: list channels for conn %s: %w", connID, err)
	}
	for _, channel := range channels {
		if err := idx.store.SetRemove(ctx, forwardKey(channel), connID); err != nil {
			logger.WebSocket().Warn().Err(err).Str("channel", channel).Str("connId", connID).Msg("unsubscribeAll: forward write failed")
		}
	}
	if err := idx.store.Delete(ctx, reverseKey(connID)); err != nil {
		return fmt.Errorf("subscription: delete reverse set for conn %s: %w", connID, err)
	}
	return nil
}

// Subscribers returns every connection id currently subscribed to
// channel.
func (idx *Index) Subscribers(ctx context.Context, channel string) ([]string, error) {
	ids, err := idx.store.SetMembers(ctx, forwardKey(channel))
	if err != nil {
		return nil, fmt.Errorf("subscription: list subscribers of %s: %w", channel, err)
	}
	return ids, nil
}
