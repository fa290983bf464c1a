package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/bricerising/tablegate/internal/auth"
	"github.com/bricerising/tablegate/internal/cache"
	"github.com/bricerising/tablegate/internal/config"
	"github.com/bricerising/tablegate/internal/events"
	"github.com/bricerising/tablegate/internal/logger"
	"github.com/bricerising/tablegate/internal/metrics"
	"github.com/bricerising/tablegate/internal/ratelimit"
	"github.com/bricerising/tablegate/internal/registry"
	"github.com/bricerising/tablegate/internal/rpc"
	"github.com/bricerising/tablegate/internal/subscription"
)

func init() {
	logger.Initialize("error", false)
}

type fakeGame struct {
	mu sync.Mutex

	table    *rpc.TableInfo
	state    *rpc.TableState
	stateErr error
	muted    bool
	tables   []rpc.TableSummary

	submitResult *rpc.ActionResult
	submitErr    error
	submitCalls  int

	joinSeatResult *rpc.ActionResult
	joinSeatErr    error
}

func (f *fakeGame) JoinSpectator(context.Context, string, string) error  { return nil }
func (f *fakeGame) LeaveSpectator(context.Context, string, string) error { return nil }

func (f *fakeGame) GetTable(_ context.Context, tableID string) (*rpc.TableInfo, error) {
	if f.table != nil {
		return f.table, nil
	}
	return &rpc.TableInfo{TableID: tableID, Raw: map[string]interface{}{"tableId": tableID}}, nil
}

func (f *fakeGame) GetTableState(context.Context, string, string) (*rpc.TableState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	if f.state != nil {
		return f.state, nil
	}
	return &rpc.TableState{State: map[string]interface{}{}}, nil
}

func (f *fakeGame) JoinSeat(context.Context, string, string, int, float64) (*rpc.ActionResult, error) {
	if f.joinSeatErr != nil {
		return nil, f.joinSeatErr
	}
	if f.joinSeatResult != nil {
		return f.joinSeatResult, nil
	}
	return &rpc.ActionResult{OK: true}, nil
}

func (f *fakeGame) LeaveSeat(context.Context, string, string) error { return nil }

func (f *fakeGame) SubmitAction(context.Context, string, string, string, *float64) (*rpc.ActionResult, error) {
	f.mu.Lock()
	f.submitCalls++
	f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.submitResult != nil {
		return f.submitResult, nil
	}
	return &rpc.ActionResult{OK: true}, nil
}

func (f *fakeGame) IsMuted(context.Context, string, string) (bool, error) { return f.muted, nil }

func (f *fakeGame) ListTables(context.Context) ([]rpc.TableSummary, error) { return f.tables, nil }

func (f *fakeGame) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

type fakePlayer struct {
	mu       sync.Mutex
	username string
	synced   []string
}

func (f *fakePlayer) GetProfile(context.Context, string) (*rpc.Profile, error) {
	return &rpc.Profile{Username: f.username}, nil
}

func (f *fakePlayer) SyncUsername(_ context.Context, _, username string) error {
	f.mu.Lock()
	f.synced = append(f.synced, username)
	f.mu.Unlock()
	return nil
}

type fakeEvent struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvent) PublishEvent(_ context.Context, eventType string, _ map[string]interface{}) error {
	f.mu.Lock()
	f.events = append(f.events, eventType)
	f.mu.Unlock()
	return nil
}

func (f *fakeEvent) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeBus struct {
	mu        sync.Mutex
	published []events.Message
}

func (f *fakeBus) Publish(kind events.ChannelKind, tableID string, payload map[string]interface{}) error {
	f.mu.Lock()
	f.published = append(f.published, events.Message{Kind: kind, TableID: tableID, Payload: payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeBus) messages() []events.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Message(nil), f.published...)
}

type testDeps struct {
	game     *fakeGame
	player   *fakePlayer
	event    *fakeEvent
	bus      *fakeBus
	mr       *miniredis.Miniredis
	store    *cache.Cache
	cfg      *config.Config
	verifier tokenVerifier
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimitWindowMS:    10000,
		RateLimitMax:         20,
		AuthTimeoutMS:        5000,
		HeartbeatIntervalMS:  30000,
		InstanceHeartbeatMS:  15000,
		InstanceStaleAfterMS: 60000,
	}
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &testDeps{
		game:   &fakeGame{},
		player: &fakePlayer{username: "alice"},
		event:  &fakeEvent{},
		bus:    &fakeBus{},
		mr:     mr,
		store:  cache.NewFromClient(client),
		cfg:    testConfig(),
	}
}

// newTestGateway builds a Gateway on an in-process miniredis with fake
// downstream clients. A second gateway sharing the same deps (and
// therefore the same Redis) models a second instance behind the load
// balancer.
func newTestGateway(t *testing.T, instanceID string, deps *testDeps) (*Gateway, *testDeps) {
	t.Helper()

	if deps == nil {
		deps = newTestDeps(t)
	}

	if deps.verifier == nil {
		deps.verifier = &staticVerifier{}
	}

	gw := New(Deps{
		Config:     deps.cfg,
		InstanceID: instanceID,
		Store:      deps.store,
		Local:      registry.NewLocal(),
		Shared:     registry.NewShared(deps.store),
		SubIndex:   subscription.New(deps.store),
		Bus:        deps.bus,
		Limiter:    ratelimit.New(deps.store, deps.cfg.RateLimitWindow(), deps.cfg.RateLimitMax),
		Game:       deps.game,
		Player:     deps.player,
		Event:      deps.event,
		Verifier:   deps.verifier,
		Metrics:    metrics.New(prometheus.NewRegistry()),
	})
	return gw, deps
}

type staticVerifier struct {
	claims *auth.Claims
	err    error
}

func (v *staticVerifier) Verify(context.Context, string) (*auth.Claims, error) {
	if v.err != nil {
		return nil, v.err
	}
	if v.claims != nil {
		return v.claims, nil
	}
	return &auth.Claims{UserID: "u1", Username: "alice"}, nil
}

// newTestSession registers a local connection (no real socket) and wraps
// it in an authenticated session, so hub handlers can be driven directly
// and their replies read off the connection's Send channel.
func newTestSession(t *testing.T, gw *Gateway, connID, userID string) *session {
	t.Helper()
	meta := registry.Meta{ConnID: connID, UserID: userID, IP: "1.2.3.4", ClientType: "web", InstanceID: gw.instanceID}
	conn := gw.local.Register(connID, nil, meta)
	return &session{
		gw:           gw,
		connID:       connID,
		userID:       userID,
		username:     "alice",
		ip:           "1.2.3.4",
		clientType:   "web",
		conn:         conn,
		frameLimiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// readFrame pops the next queued outbound frame for s and decodes it.
func readFrame(t *testing.T, s *session) map[string]interface{} {
	t.Helper()
	select {
	case data := <-s.conn.Send:
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		return decoded
	default:
		t.Fatal("expected an outbound frame, found none")
		return nil
	}
}

func requireNoFrame(t *testing.T, s *session) {
	t.Helper()
	select {
	case data := <-s.conn.Send:
		t.Fatalf("expected no outbound frame, got %s", data)
	default:
	}
}
