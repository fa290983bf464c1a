package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/bricerising/tablegate/internal/logger"
	"github.com/bricerising/tablegate/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 1 << 16

	// Process-local guard on one abusive socket, independent of the
	// distributed per-user/per-IP limiter the hubs consult.
	framesPerSecond = 50
	frameBurst      = 100

	// Operational bookkeeping: a capped log of ended sessions.
	sessionAuditKey    = "gateway:audit:sessions"
	sessionAuditLength = 1000
)

// session holds the state the hub handlers need once a socket has
// authenticated. One session is owned exclusively by its accepting
// goroutine pair (read pump, write pump); nothing else writes the
// socket.
type session struct {
	gw         *Gateway
	connID     string
	userID     string
	username   string
	ip         string
	clientType string
	conn       *registry.Conn
	socket     *websocket.Conn
	startedAt  time.Time

	frameLimiter *rate.Limiter
}

func (s *session) send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.WebSocket().Error().Err(err).Str("connId", s.connID).Msg("session: failed to encode outbound message")
		return
	}
	s.gw.local.SendText(s.connID, data)
}

// writePump drains the registry's bounded send channel to the socket and
// sends periodic pings. It owns the only writer on this socket.
func (s *session) writePump() {
	ticker := time.NewTicker(s.gw.config.HeartbeatInterval())
	defer func() {
		ticker.Stop()
		s.socket.Close()
	}()

	for {
		select {
		case message, ok := <-s.conn.Send:
			s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := s.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump parses inbound frames and dispatches them through the hub
// router until the socket closes.
func (s *session) readPump() {
	defer s.close()

	s.socket.SetReadLimit(maxMessageSize)
	s.socket.SetReadDeadline(time.Now().Add(pongWait))
	s.socket.SetPongHandler(func(string) error {
		s.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WebSocket().Debug().Err(err).Str("connId", s.connID).Msg("readPump: socket closed")
			}
			return
		}
		if !s.frameLimiter.Allow() {
			continue
		}
		s.gw.metrics.MessagesReceived.Inc()
		s.dispatch(data)
	}
}

// dispatch decodes one frame and routes it to the matching hub handler.
// A panic recovered here is logged and dropped; it never reaches the
// accept loop or crashes the process.
func (s *session) dispatch(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.WebSocket().Error().Interface("panic", r).Str("connId", s.connID).Msg("dispatch: recovered from panic in handler")
		}
	}()

	var env inbound
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch env.Type {
	case "SubscribeTable", "ResyncTable":
		var msg subscribeTableMsg
		if json.Unmarshal(data, &msg) == nil && msg.TableID != "" {
			s.subscribeTable(ctx, msg.TableID)
		}
	case "UnsubscribeTable":
		var msg subscribeTableMsg
		if json.Unmarshal(data, &msg) == nil && msg.TableID != "" {
			s.unsubscribeTable(ctx, msg.TableID)
		}
	case "JoinSeat":
		var msg joinSeatMsg
		if json.Unmarshal(data, &msg) == nil && msg.TableID != "" {
			s.joinSeat(ctx, msg)
		}
	case "LeaveTable":
		var msg leaveTableMsg
		if json.Unmarshal(data, &msg) == nil && msg.TableID != "" {
			s.leaveTable(ctx, msg.TableID)
		}
	case "Action":
		var msg actionMsg
		if json.Unmarshal(data, &msg) == nil {
			s.action(ctx, msg)
		}
	case "SubscribeChat":
		var msg subscribeChatMsg
		if json.Unmarshal(data, &msg) == nil && msg.TableID != "" {
			s.subscribeChat(ctx, msg.TableID)
		}
	case "UnsubscribeChat":
		var msg subscribeChatMsg
		if json.Unmarshal(data, &msg) == nil && msg.TableID != "" {
			s.unsubscribeChat(ctx, msg.TableID)
		}
	case "ChatSend":
		var msg chatSendMsg
		if json.Unmarshal(data, &msg) == nil && msg.TableID != "" {
			s.chatSend(ctx, msg)
		}
	default:
		// unknown or unhandled type: dropped silently.
	}
}

// close tears the session down: unsubscribe everywhere, clear the shared
// directory row, flip presence if this was the user's last connection,
// and emit SESSION_ENDED.
func (s *session) close() {
	s.gw.local.Unregister(s.connID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.gw.subIndex.UnsubscribeAll(ctx, s.connID); err != nil {
		logger.WebSocket().Warn().Err(err).Str("connId", s.connID).Msg("close: unsubscribeAll failed")
	}
	if err := s.gw.shared.Delete(ctx, s.connID, s.userID); err != nil {
		logger.WebSocket().Warn().Err(err).Str("connId", s.connID).Msg("close: shared directory delete failed")
	}

	remaining, err := s.gw.shared.ByUser(ctx, s.userID)
	wentOffline := err == nil && len(remaining) == 0
	if wentOffline {
		if err := s.gw.shared.SetPresence(ctx, s.userID, false); err != nil {
			logger.WebSocket().Warn().Err(err).Str("userId", s.userID).Msg("close: presence update failed")
		}
	}
	s.gw.metrics.ConnectionsActive.Dec()

	elapsed := time.Since(s.startedAt)
	if err := s.gw.eventClient.PublishEvent(ctx, "SESSION_ENDED", map[string]interface{}{
		"connectionId": s.connID,
		"userId":       s.userID,
		"elapsedMs":    elapsed.Milliseconds(),
		"wentOffline":  wentOffline,
	}); err != nil {
		logger.WebSocket().Debug().Err(err).Str("connId", s.connID).Msg("close: SESSION_ENDED publish failed")
	}

	if row, err := json.Marshal(map[string]interface{}{
		"connectionId": s.connID,
		"userId":       s.userID,
		"clientType":   s.clientType,
		"ip":           s.ip,
		"connectedAt":  s.startedAt.Format(time.RFC3339),
		"elapsedMs":    elapsed.Milliseconds(),
	}); err == nil {
		if err := s.gw.store.ListPushCapped(ctx, sessionAuditKey, string(row), sessionAuditLength); err != nil {
			logger.WebSocket().Debug().Err(err).Str("connId", s.connID).Msg("close: audit append failed")
		}
	}

	logger.WebSocket().Info().Str("connId", s.connID).Str("userId", s.userID).Dur("duration", elapsed).Msg("session closed")
}
