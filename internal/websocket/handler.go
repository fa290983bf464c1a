package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/bricerising/tablegate/internal/auth"
	"github.com/bricerising/tablegate/internal/errs"
	"github.com/bricerising/tablegate/internal/logger"
	"github.com/bricerising/tablegate/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The socket is useless before the bearer-token handshake succeeds,
	// so origin enforcement adds nothing here and would break native
	// mobile clients that send no Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// preAuth is the query-string authentication outcome carried across the
// upgrade: ok, invalid, or missing.
type preAuth struct {
	claims *auth.Claims
	err    error
	tried  bool
}

// RegisterRoutes mounts the WebSocket endpoint on router.
func (gw *Gateway) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", gw.handleWS)
}

// handleWS runs the per-socket auth state machine: authenticate the
// query token before upgrading, upgrade, then either close (invalid),
// proceed (ok), or await an Authenticate frame (missing).
func (gw *Gateway) handleWS(c *gin.Context) {
	pre := preAuth{}
	if token := c.Query("token"); token != "" {
		pre.tried = true
		pre.claims, pre.err = gw.verifier.Verify(c.Request.Context(), token)
	}

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Msg("upgrade failed")
		return
	}

	clientType := "web"
	if c.Query("client") == "mobile" {
		clientType = "mobile"
	}
	ip := c.ClientIP()

	switch {
	case pre.tried && pre.err != nil:
		closeWith(socket, authCloseCode(pre.err), authCloseReason(pre.err))
		socket.Close()
		return
	case pre.tried:
		gw.serve(socket, pre.claims, ip, clientType)
	default:
		claims, ok := gw.awaitAuth(socket)
		if !ok {
			socket.Close()
			return
		}
		gw.serve(socket, claims, ip, clientType)
	}
}

// awaitAuth blocks until the first frame arrives or the auth timeout
// fires. The read deadline doubles as the cancellable auth timer: a
// frame clears it, the read error path is the timer firing.
func (gw *Gateway) awaitAuth(socket *websocket.Conn) (*auth.Claims, bool) {
	socket.SetReadLimit(maxMessageSize)
	socket.SetReadDeadline(time.Now().Add(gw.config.AuthTimeout()))

	_, data, err := socket.ReadMessage()
	if err != nil {
		closeWith(socket, websocket.ClosePolicyViolation, "Authentication required")
		return nil, false
	}
	socket.SetReadDeadline(time.Time{})

	var env inbound
	var frame authenticateMsg
	if json.Unmarshal(data, &env) != nil || env.Type != "Authenticate" ||
		json.Unmarshal(data, &frame) != nil || frame.Token == "" {
		closeWith(socket, websocket.ClosePolicyViolation, "Invalid authentication payload")
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	claims, err := gw.verifier.Verify(ctx, frame.Token)
	if err != nil {
		logger.Security().Info().Err(err).Msg("authenticate frame rejected")
		closeWith(socket, authCloseCode(err), authCloseReason(err))
		return nil, false
	}
	return claims, true
}

// serve runs the authenticated-entry actions (register locally and in
// the shared directory, flip presence, emit SESSION_STARTED, welcome
// the client, attach the lobby) and then blocks in the read pump until
// the socket closes.
func (gw *Gateway) serve(socket *websocket.Conn, claims *auth.Claims, ip, clientType string) {
	connID := uuid.NewString()
	now := time.Now().UTC()
	meta := registry.Meta{
		ConnID:      connID,
		UserID:      claims.UserID,
		IP:          ip,
		ClientType:  clientType,
		InstanceID:  gw.instanceID,
		ConnectedAt: now,
	}

	conn := gw.local.Register(connID, socket, meta)
	gw.metrics.ConnectionsActive.Inc()
	gw.metrics.ConnectionsTotal.Inc()

	s := &session{
		gw:           gw,
		connID:       connID,
		userID:       claims.UserID,
		username:     claims.Username,
		ip:           ip,
		clientType:   clientType,
		conn:         conn,
		socket:       socket,
		startedAt:    now,
		frameLimiter: rate.NewLimiter(rate.Limit(framesPerSecond), frameBurst),
	}
	go s.writePump()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := gw.shared.Save(ctx, meta); err != nil {
		logger.WebSocket().Warn().Err(err).Str("connId", connID).Msg("shared directory save failed")
	}
	if err := gw.shared.SetPresence(ctx, claims.UserID, true); err != nil {
		logger.WebSocket().Warn().Err(err).Str("userId", claims.UserID).Msg("presence update failed")
	}
	cancel()

	go func() {
		eventCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gw.eventClient.PublishEvent(eventCtx, "SESSION_STARTED", map[string]interface{}{
			"connectionId": connID,
			"userId":       claims.UserID,
			"clientType":   clientType,
			"timestamp":    now.Format(time.RFC3339),
		}); err != nil {
			logger.RPC().Debug().Err(err).Str("connId", connID).Msg("SESSION_STARTED publish failed")
		}
	}()

	s.send(welcomeMsg{Type: typeWelcome, UserID: claims.UserID, ConnectionID: connID})

	attachCtx, cancelAttach := context.WithTimeout(context.Background(), 10*time.Second)
	s.subscribeLobby(attachCtx)
	cancelAttach()

	if claims.Username != "" {
		go func() {
			syncCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := gw.playerClient.SyncUsername(syncCtx, claims.UserID, claims.Username); err != nil {
				logger.RPC().Debug().Err(err).Str("userId", claims.UserID).Msg("username sync failed")
			}
		}()
	}

	logger.WebSocket().Info().
		Str("connId", connID).
		Str("userId", claims.UserID).
		Str("clientType", clientType).
		Msg("session started")

	s.readPump()
}

// authCloseCode maps a verification failure to its close code: 1011 when
// no key source could serve the token (the identity provider is down or
// unconfigured), 1008 for a token that was actually judged and rejected.
func authCloseCode(err error) int {
	if errors.Is(err, errs.ErrKeyNotFound) {
		return websocket.CloseInternalServerErr
	}
	return websocket.ClosePolicyViolation
}

func authCloseReason(err error) string {
	if errors.Is(err, errs.ErrKeyNotFound) {
		return "Authentication unavailable"
	}
	return "Unauthorized"
}

func closeWith(socket *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := socket.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logger.WebSocket().Debug().Err(err).Msg("close frame write failed")
	}
}
