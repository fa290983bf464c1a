// Package websocket implements the gateway's client-facing transport:
// the session lifecycle, the hub router, the table/chat/lobby hubs, and
// the delivery engine that resolves a channel's local subscribers and
// writes to their sockets.
//
// Each socket gets a bounded send channel with dedicated read/write pump
// goroutines and ping/pong keepalive; inbound frames dispatch by their
// type tag to the three logical hubs multiplexed over the one socket.
package websocket

import (
	"errors"
	"time"

	"github.com/bricerising/tablegate/internal/errs"
)

// inbound is the envelope every client frame is first decoded into so the
// router can read the discriminator before committing to a concrete type.
type inbound struct {
	Type string `json:"type"`
}

type authenticateMsg struct {
	Token string `json:"token"`
}

type subscribeTableMsg struct {
	TableID string `json:"tableId"`
}

type joinSeatMsg struct {
	TableID     string   `json:"tableId"`
	SeatID      float64  `json:"seatId"`
	BuyInAmount *float64 `json:"buyInAmount"`
}

type leaveTableMsg struct {
	TableID string `json:"tableId"`
}

type actionMsg struct {
	TableID string   `json:"tableId"`
	Action  string   `json:"action"`
	Amount  *float64 `json:"amount"`
}

type subscribeChatMsg struct {
	TableID string `json:"tableId"`
}

type chatSendMsg struct {
	TableID string `json:"tableId"`
	Message string `json:"message"`
}

// outbound message shapes. Every one carries its own `type` tag so the
// client can dispatch without a secondary lookup.

type welcomeMsg struct {
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type lobbyTablesUpdatedMsg struct {
	Type   string        `json:"type"`
	Tables []interface{} `json:"tables"`
}

type tableSnapshotMsg struct {
	Type       string      `json:"type"`
	TableState interface{} `json:"tableState"`
}

type tablePatchMsg struct {
	Type    string      `json:"type"`
	TableID string      `json:"tableId"`
	Patch   interface{} `json:"patch"`
}

type holeCardsMsg struct {
	Type    string        `json:"type"`
	TableID string        `json:"tableId"`
	HandID  string        `json:"handId,omitempty"`
	Cards   []interface{} `json:"cards"`
}

type timerUpdateMsg struct {
	Type            string      `json:"type"`
	TableID         string      `json:"tableId"`
	HandID          string      `json:"handId,omitempty"`
	CurrentTurnSeat interface{} `json:"currentTurnSeat,omitempty"`
	DeadlineTs      interface{} `json:"deadlineTs,omitempty"`
}

type actionResultMsg struct {
	Type     string `json:"type"`
	TableID  string `json:"tableId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type chatRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type chatSubscribedMsg struct {
	Type    string       `json:"type"`
	TableID string       `json:"tableId"`
	History []chatRecord `json:"history"`
}

type chatErrorMsg struct {
	Type    string `json:"type"`
	TableID string `json:"tableId"`
	Reason  string `json:"reason"`
}

type chatMessageMsg struct {
	Type    string     `json:"type"`
	TableID string     `json:"tableId"`
	Message chatRecord `json:"message"`
}

const (
	typeWelcome            = "Welcome"
	typeError              = "Error"
	typeLobbyTablesUpdated = "LobbyTablesUpdated"
	typeTableSnapshot      = "TableSnapshot"
	typeTablePatch         = "TablePatch"
	typeHoleCards          = "HoleCards"
	typeActionResult       = "ActionResult"
	typeTimerUpdate        = "TimerUpdate"
	typeChatSubscribed     = "ChatSubscribed"
	typeChatError          = "ChatError"
	typeChatMessage        = "ChatMessage"
)

// actionMap is the fixed client-action -> upstream-action table. ALL_IN
// is deliberately absent.
var actionMap = map[string]string{
	"Fold":  "FOLD",
	"Check": "CHECK",
	"Call":  "CALL",
	"Bet":   "BET",
	"Raise": "RAISE",
}

// wireReason maps a policy sentinel to the reason tag sent to the client.
// Anything outside the policy set is reported as an internal error.
func wireReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, errs.ErrNotSeated):
		return "not_seated"
	case errors.Is(err, errs.ErrMuted):
		return "muted"
	case errors.Is(err, errs.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, errs.ErrMessageTooLong):
		return "message_too_long"
	case errors.Is(err, errs.ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, errs.ErrMissingAmount):
		return "missing_amount"
	default:
		return "internal_error"
	}
}
