package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bricerising/tablegate/internal/cache"
)

// Redis key layout for the shared directory.
const (
	connKeyPrefix     = "gateway:conn:"
	byUserKeyPrefix   = "gateway:byuser:"
	instConnKeyPrefix = "gateway:instanceconns:"
	instancesKey      = "gateway:instances"
	presenceKeyPrefix = "gateway:presence:"
)

func connKey(connID string) string         { return connKeyPrefix + connID }
func byUserKey(userID string) string       { return byUserKeyPrefix + userID }
func instConnKey(instanceID string) string { return instConnKeyPrefix + instanceID }
func presenceKey(userID string) string     { return presenceKeyPrefix + userID }

// Shared is the cross-instance half of the registry: the connection
// directory that lets any instance discover which instance owns a given
// connection id, plus the instance presence-heartbeat table used to
// garbage-collect entries left behind by a crashed instance.
type Shared struct {
	store *cache.Cache
}

// NewShared wraps store as the shared connection directory.
func NewShared(store *cache.Cache) *Shared {
	return &Shared{store: store}
}

// Save writes a connection's directory row and indexes it by user and by
// owning instance. Best-effort: failures are returned for the caller to
// log, never to abort the connection.
func (s *Shared) Save(ctx context.Context, meta Meta) error {
	fields := map[string]string{
		"user_id":      meta.UserID,
		"ip":           meta.IP,
		"client_type":  meta.ClientType,
		"instance_id":  meta.InstanceID,
		"connected_at": meta.ConnectedAt.UTC().Format(time.RFC3339),
	}
	for field, val := range fields {
		if err := s.store.HashSet(ctx, connKey(meta.ConnID), field, val); err != nil {
			return fmt.Errorf("registry: save conn %s: %w", meta.ConnID, err)
		}
	}
	if err := s.store.SetAdd(ctx, byUserKey(meta.UserID), meta.ConnID); err != nil {
		return fmt.Errorf("registry: index conn %s by user: %w", meta.ConnID, err)
	}
	if err := s.store.SetAdd(ctx, instConnKey(meta.InstanceID), meta.ConnID); err != nil {
		return fmt.Errorf("registry: index conn %s by instance: %w", meta.ConnID, err)
	}
	return nil
}

// Delete removes connID's directory row and its index entries.
func (s *Shared) Delete(ctx context.Context, connID, userID string) error {
	row, err := s.store.HashGetAll(ctx, connKey(connID))
	if err != nil {
		return fmt.Errorf("registry: read conn %s: %w", connID, err)
	}
	if err := s.store.Delete(ctx, connKey(connID)); err != nil {
		return fmt.Errorf("registry: delete conn %s: %w", connID, err)
	}
	if err := s.store.SetRemove(ctx, byUserKey(userID), connID); err != nil {
		return fmt.Errorf("registry: unindex conn %s from user: %w", connID, err)
	}
	if instanceID := row["instance_id"]; instanceID != "" {
		if err := s.store.SetRemove(ctx, instConnKey(instanceID), connID); err != nil {
			return fmt.Errorf("registry: unindex conn %s from instance: %w", connID, err)
		}
	}
	return nil
}

// ByUser returns every connection id currently registered for userID,
// across every instance.
func (s *Shared) ByUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.store.SetMembers(ctx, byUserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("registry: by-user %s: %w", userID, err)
	}
	return ids, nil
}

// ClearInstance removes every directory row belonging to instanceID and
// returns the connection ids it reclaimed, so the caller can converge the
// subscription index for them too. Used by the staleness sweep to reclaim
// entries an instance left behind when it crashed without a clean
// shutdown.
func (s *Shared) ClearInstance(ctx context.Context, instanceID string) ([]string, error) {
	connIDs, err := s.store.SetMembers(ctx, instConnKey(instanceID))
	if err != nil {
		return nil, fmt.Errorf("registry: list conns for instance %s: %w", instanceID, err)
	}
	cleared := make([]string, 0, len(connIDs))
	for _, connID := range connIDs {
		row, err := s.store.HashGetAll(ctx, connKey(connID))
		if err != nil {
			continue
		}
		if err := s.store.Delete(ctx, connKey(connID)); err != nil {
			continue
		}
		if userID := row["user_id"]; userID != "" {
			_ = s.store.SetRemove(ctx, byUserKey(userID), connID)
		}
		cleared = append(cleared, connID)
	}
	if err := s.store.Delete(ctx, instConnKey(instanceID)); err != nil {
		return cleared, fmt.Errorf("registry: clear instance conn index %s: %w", instanceID, err)
	}
	return cleared, s.clearHeartbeat(ctx, instanceID)
}

// SetPresence records userID's presence flag. Per the presence invariant,
// callers flip it online when a connection registers and offline only
// when the user's last connection anywhere is gone.
func (s *Shared) SetPresence(ctx context.Context, userID string, online bool) error {
	val := "offline"
	if online {
		val = "online"
	}
	if err := s.store.Set(ctx, presenceKey(userID), val, 0); err != nil {
		return fmt.Errorf("registry: set presence for %s: %w", userID, err)
	}
	return nil
}

// Presence reports whether userID is currently flagged online.
func (s *Shared) Presence(ctx context.Context, userID string) (bool, error) {
	val, err := s.store.Get(ctx, presenceKey(userID))
	if err != nil {
		return false, fmt.Errorf("registry: get presence for %s: %w", userID, err)
	}
	return val == "online", nil
}

// Heartbeat records instanceID as alive at the current time.
func (s *Shared) Heartbeat(ctx context.Context, instanceID string) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := s.store.HashSet(ctx, instancesKey, instanceID, now); err != nil {
		return fmt.Errorf("registry: heartbeat %s: %w", instanceID, err)
	}
	return nil
}

func (s *Shared) clearHeartbeat(ctx context.Context, instanceID string) error {
	return s.store.HashDelete(ctx, instancesKey, instanceID)
}

// StaleInstances returns the ids of every instance whose last heartbeat is
// older than staleAfter.
func (s *Shared) StaleInstances(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	all, err := s.store.HashGetAll(ctx, instancesKey)
	if err != nil {
		return nil, fmt.Errorf("registry: list instance heartbeats: %w", err)
	}
	cutoff := time.Now().Add(-staleAfter).Unix()
	var stale []string
	for instanceID, tsStr := range all {
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil || ts < cutoff {
			stale = append(stale, instanceID)
		}
	}
	return stale, nil
}
