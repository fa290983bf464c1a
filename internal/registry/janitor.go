package registry

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bricerising/tablegate/internal/logger"
)

// subscriptionCleaner is the slice of the subscription index the janitor
// needs: converging the forward/reverse sets for connections whose owning
// instance died without a clean shutdown.
type subscriptionCleaner interface {
	UnsubscribeAll(ctx context.Context, connID string) error
}

// Janitor runs the shared registry's liveness bookkeeping for one
// instance: a periodic heartbeat write, and a cron-scheduled sweep that
// clears directory rows (and their subscriptions) left behind by
// instances whose heartbeat has gone stale.
type Janitor struct {
	shared     *Shared
	subs       subscriptionCleaner
	instanceID string

	heartbeatEvery time.Duration
	staleAfter     time.Duration

	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewJanitor constructs a Janitor for instanceID.
func NewJanitor(shared *Shared, subs subscriptionCleaner, instanceID string, heartbeatEvery, staleAfter time.Duration) *Janitor {
	return &Janitor{
		shared:         shared,
		subs:           subs,
		instanceID:     instanceID,
		heartbeatEvery: heartbeatEvery,
		staleAfter:     staleAfter,
	}
}

// Start writes an immediate heartbeat, then runs the heartbeat loop and
// schedules the staleness sweep.
func (j *Janitor) Start(sweepSpec string) error {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	if err := j.shared.Heartbeat(ctx, j.instanceID); err != nil {
		logger.WebSocket().Warn().Err(err).Msg("janitor: initial heartbeat failed")
	}

	go func() {
		ticker := time.NewTicker(j.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := j.shared.Heartbeat(ctx, j.instanceID); err != nil {
					logger.WebSocket().Warn().Err(err).Msg("janitor: heartbeat failed")
				}
			}
		}
	}()

	j.cron = cron.New()
	if _, err := j.cron.AddFunc(sweepSpec, j.Sweep); err != nil {
		cancel()
		return err
	}
	j.cron.Start()
	return nil
}

// Sweep clears directory rows belonging to every instance whose heartbeat
// is older than the stale threshold, skipping this instance's own id.
func (j *Janitor) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stale, err := j.shared.StaleInstances(ctx, j.staleAfter)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Msg("janitor: stale-instance scan failed")
		return
	}
	for _, instanceID := range stale {
		if instanceID == j.instanceID {
			continue
		}
		connIDs, err := j.shared.ClearInstance(ctx, instanceID)
		if err != nil {
			logger.WebSocket().Warn().Err(err).Str("instanceId", instanceID).Msg("janitor: clear-instance failed")
		}
		for _, connID := range connIDs {
			if err := j.subs.UnsubscribeAll(ctx, connID); err != nil {
				logger.WebSocket().Warn().Err(err).Str("connId", connID).Msg("janitor: subscription cleanup failed")
			}
		}
		if len(connIDs) > 0 {
			logger.WebSocket().Info().Str("instanceId", instanceID).Int("conns", len(connIDs)).Msg("janitor: reclaimed dead instance")
		}
	}
}

// Stop halts the heartbeat loop and the sweep schedule, then removes this
// instance's own rows so a clean shutdown leaves nothing for peers to
// garbage-collect.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	if j.cron != nil {
		j.cron.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	connIDs, err := j.shared.ClearInstance(ctx, j.instanceID)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Msg("janitor: shutdown cleanup failed")
	}
	for _, connID := range connIDs {
		_ = j.subs.UnsubscribeAll(ctx, connID)
	}
}
