package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"

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

// publisher is the slice of the pub/sub bus the gateway writes to. The
// real implementation is *events.Bus; tests substitute a recorder.
type publisher interface {
	Publish(kind events.ChannelKind, tableID string, payload map[string]interface{}) error
}

// tokenVerifier is the slice of the auth verifier the handshake needs.
type tokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// Deps bundles everything a Gateway is built from. All fields are
// required except Metrics, which defaults to an unexported registry
// when nil.
type Deps struct {
	Config     *config.Config
	InstanceID string

	Store    *cache.Cache
	Local    *registry.Local
	Shared   *registry.Shared
	SubIndex *subscription.Index
	Bus      publisher
	Limiter  *ratelimit.Limiter

	Game   rpc.GameClient
	Player rpc.PlayerClient
	Event  rpc.EventClient

	Verifier tokenVerifier
	Metrics  *metrics.Metrics
}

// Gateway owns one instance's client-facing state: the local socket
// table, the handles to the shared indices, and the downstream clients
// every hub handler calls through.
type Gateway struct {
	config     *config.Config
	instanceID string

	store    *cache.Cache
	local    *registry.Local
	shared   *registry.Shared
	subIndex *subscription.Index
	bus      publisher
	limiter  *ratelimit.Limiter

	gameClient   rpc.GameClient
	playerClient rpc.PlayerClient
	eventClient  rpc.EventClient

	verifier  tokenVerifier
	sanitizer *bluemonday.Policy
	metrics   *metrics.Metrics
}

// New constructs a Gateway from deps.
func New(deps Deps) *Gateway {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return &Gateway{
		config:       deps.Config,
		instanceID:   deps.InstanceID,
		store:        deps.Store,
		local:        deps.Local,
		shared:       deps.Shared,
		subIndex:     deps.SubIndex,
		bus:          deps.Bus,
		limiter:      deps.Limiter,
		gameClient:   deps.Game,
		playerClient: deps.Player,
		eventClient:  deps.Event,
		verifier:     deps.Verifier,
		sanitizer:    bluemonday.StrictPolicy(),
		metrics:      deps.Metrics,
	}
}

// InstanceID returns this gateway process's id.
func (gw *Gateway) InstanceID() string { return gw.instanceID }

// BusHandlers returns the per-kind ingress handler table the pub/sub bus
// dispatches into. Table and timer traffic both land on the table:<id>
// channel; lobby payloads must carry a tables array or are dropped.
func (gw *Gateway) BusHandlers() map[events.ChannelKind]events.Handler {
	return map[events.ChannelKind]events.Handler{
		events.KindTable: gw.ingressTable,
		events.KindTimer: gw.ingressTable,
		events.KindChat:  gw.ingressChat,
		events.KindLobby: gw.ingressLobby,
	}
}

func (gw *Gateway) ingressTable(msg events.Message) {
	gw.metrics.BusReceived.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gw.deliver(ctx, msg.Channel(), msg.Payload)
}

// ingressChat re-wraps a remote chat record in the same envelope the
// publishing instance delivered locally, so subscribers on every
// instance see an identical frame.
func (gw *Gateway) ingressChat(msg events.Message) {
	gw.metrics.BusReceived.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gw.deliver(ctx, msg.Channel(), map[string]interface{}{
		"type":    typeChatMessage,
		"tableId": msg.TableID,
		"message": msg.Payload,
	})
}

func (gw *Gateway) ingressLobby(msg events.Message) {
	gw.metrics.BusReceived.Inc()
	tables, ok := msg.Payload["tables"].([]interface{})
	if !ok {
		logger.PubSub().Warn().Str("sourceId", msg.SourceID).Msg("lobby message without tables array, dropping")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gw.deliver(ctx, "lobby", lobbyTablesUpdatedMsg{Type: typeLobbyTablesUpdated, Tables: tables})
}

// chatHistory reads the most recent chat records for tableID, oldest
// first.
func (gw *Gateway) chatHistory(ctx context.Context, tableID string) ([]chatRecord, error) {
	rows, err := gw.store.ListRange(ctx, chatHistoryKey(tableID), 0, chatHistoryLength-1)
	if err != nil {
		return nil, err
	}
	// LPUSH keeps newest-first; the client wants oldest-first.
	history := make([]chatRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		var record chatRecord
		if err := json.Unmarshal([]byte(rows[i]), &record); err != nil {
			logger.WebSocket().Warn().Err(err).Str("tableId", tableID).Msg("skipping malformed chat history row")
			continue
		}
		history = append(history, record)
	}
	return history, nil
}

// saveChatMessage appends record to tableID's capped history log.
func (gw *Gateway) saveChatMessage(ctx context.Context, tableID string, record chatRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return gw.store.ListPushCapped(ctx, chatHistoryKey(tableID), string(data), chatHistoryLength)
}
