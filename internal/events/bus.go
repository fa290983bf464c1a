package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bricerising/tablegate/internal/logger"
)

// Topic is the single shared subject every gateway instance publishes to
// and subscribes from. Channel kind is encoded in the message body, not
// the subject, so one subscription covers every kind.
const Topic = "gateway:ws:events"

// closeFlushTimeout bounds how long Close waits for pending publishes.
const closeFlushTimeout = 2 * time.Second

// Bus is the cross-instance event transport. It is safe for concurrent
// Publish calls; Init must be called at most once and Close is idempotent.
type Bus struct {
	instanceID string

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	closed bool
}

// NewBus dials the NATS server at url. instanceID is stamped on every
// message this process publishes.
func NewBus(url, instanceID string) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name("tablegate-gateway"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.PubSub().Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.PubSub().Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.PubSub().Error().Err(err).Msg("nats async error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}
	return &Bus{instanceID: instanceID, conn: conn}, nil
}

// Publish stamps payload with the local instance id and the channel kind
// and writes it to the shared topic.
func (b *Bus) Publish(kind ChannelKind, tableID string, payload map[string]interface{}) error {
	msg := Message{
		Kind:      kind,
		TableID:   tableID,
		Payload:   payload,
		SourceID:  b.instanceID,
		StampedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("events: marshal message: %w", err)
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("events: bus closed")
	}
	if err := conn.Publish(Topic, data); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Init subscribes once to the shared topic and dispatches each received
// message to the handler registered for its channel kind, unless the
// message's source id is this instance's own id (loop suppression).
func (b *Bus) Init(handlers map[ChannelKind]Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("events: bus closed")
	}
	if b.sub != nil {
		return fmt.Errorf("events: already initialized")
	}

	sub, err := b.conn.Subscribe(Topic, func(natsMsg *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
			logger.PubSub().Warn().Err(err).Msg("discarding malformed bus message")
			return
		}
		dispatch(handlers, b.instanceID, msg)
	})
	if err != nil {
		return fmt.Errorf("events: subscribe: %w", err)
	}
	b.sub = sub
	return nil
}

// dispatch routes one decoded message to its channel kind's handler. It
// drops the message silently if its source id is empty or is the local
// instance (loop suppression), and drops it with a logged warning if no
// handler is registered for its kind.
func dispatch(handlers map[ChannelKind]Handler, localInstanceID string, msg Message) {
	if msg.SourceID == "" || msg.SourceID == localInstanceID {
		return
	}
	handler, ok := handlers[msg.Kind]
	if !ok {
		logger.PubSub().Warn().Str("kind", string(msg.Kind)).Msg("no handler for channel kind")
		return
	}
	handler(msg)
}

// Close tears down the subscriber, gives pending publishes up to
// closeFlushTimeout to reach the server, then closes the publisher
// connection. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			logger.PubSub().Warn().Err(err).Msg("error unsubscribing from bus topic")
		}
		b.sub = nil
	}
	if b.conn != nil {
		if err := b.conn.FlushTimeout(closeFlushTimeout); err != nil {
			logger.PubSub().Warn().Err(err).Msg("pending publishes not flushed before close")
		}
		b.conn.Close()
		b.conn = nil
	}
	return nil
}
