package websocket

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bricerising/tablegate/internal/errs"
	"github.com/bricerising/tablegate/internal/events"
	"github.com/bricerising/tablegate/internal/logger"
	"github.com/bricerising/tablegate/internal/rpc"
)

const (
	chatMaxLength     = 500
	chatHistoryLength = 50
)

func chatChannel(tableID string) string { return "chat:" + tableID }
func chatHistoryKey(tableID string) string { return "gateway:chat:history:" + tableID }

// subscribeChat implements SubscribeChat.
func (s *session) subscribeChat(ctx context.Context, tableID string) {
	s.gw.subIndex.Subscribe(ctx, s.connID, chatChannel(tableID))

	history, err := s.chatHistory(ctx, tableID)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Str("tableId", tableID).Msg("subscribeChat: history fetch failed")
		history = nil
	}
	s.send(chatSubscribedMsg{Type: typeChatSubscribed, TableID: tableID, History: history})
}

// unsubscribeChat implements UnsubscribeChat.
func (s *session) unsubscribeChat(ctx context.Context, tableID string) {
	s.gw.subIndex.Unsubscribe(ctx, s.connID, chatChannel(tableID))
}

// chatSend implements ChatSend: each policy check short-circuits on the
// first failure, cheapest checks first.
func (s *session) chatSend(ctx context.Context, msg chatSendMsg) {
	text := strings.TrimSpace(msg.Message)
	if err := s.chatPolicy(ctx, msg.TableID, text); err != nil {
		s.send(chatErrorMsg{Type: typeChatError, TableID: msg.TableID, Reason: wireReason(err)})
		return
	}

	username := "Unknown"
	if profile, err := s.gw.playerClient.GetProfile(ctx, s.userID); err == nil && profile.Username != "" {
		username = profile.Username
	}

	record := chatRecord{
		ID:        uuid.NewString(),
		UserID:    s.userID,
		Username:  username,
		Text:      s.gw.sanitizer.Sanitize(text),
		Timestamp: time.Now().UTC(),
	}

	if err := s.saveChatMessage(ctx, msg.TableID, record); err != nil {
		logger.WebSocket().Warn().Err(err).Str("tableId", msg.TableID).Msg("chatSend: persist failed")
	}

	s.broadcastChatMessage(ctx, msg.TableID, record)
}

// chatPolicy runs the denial checks for one outbound chat message in
// order, returning the first policy sentinel that fails: length, rate
// limit, membership, mute.
func (s *session) chatPolicy(ctx context.Context, tableID, text string) error {
	if text == "" {
		return errs.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > chatMaxLength {
		return errs.ErrMessageTooLong
	}

	if !s.gw.limiter.Check(ctx, s.userID, s.ip, "chat") {
		s.gw.metrics.RateLimitDenied.Inc()
		return errs.ErrRateLimited
	}

	state, err := s.gw.gameClient.GetTableState(ctx, tableID, s.userID)
	if err != nil || !seatedOrSpectating(state, s.userID) {
		return errs.ErrNotSeated
	}

	muted, err := s.gw.gameClient.IsMuted(ctx, tableID, s.userID)
	if err != nil {
		logger.RPC().Warn().Err(err).Str("tableId", tableID).Msg("chatSend: IsMuted check failed")
	}
	if muted {
		return errs.ErrMuted
	}
	return nil
}

// seatedOrSpectating is the chat membership check: the sender must
// appear in seats with a non-empty status or in spectators.
func seatedOrSpectating(state *rpc.TableState, userID string) bool {
	if state == nil || state.State == nil {
		return false
	}
	if spectators, ok := state.State["spectators"].([]interface{}); ok {
		for _, entry := range spectators {
			switch v := entry.(type) {
			case string:
				if v == userID {
					return true
				}
			case map[string]interface{}:
				if id, _ := v["userId"].(string); id == userID {
					return true
				}
			}
		}
	}
	seats, ok := state.State["seats"].([]interface{})
	if !ok {
		return false
	}
	for _, seat := range seats {
		row, ok := seat.(map[string]interface{})
		if !ok {
			continue
		}
		if id, _ := row["userId"].(string); id != userID {
			continue
		}
		if status, ok := row["status"].(string); ok && status != "" {
			return true
		}
	}
	return false
}

func (s *session) chatHistory(ctx context.Context, tableID string) ([]chatRecord, error) {
	return s.gw.chatHistory(ctx, tableID)
}

func (s *session) saveChatMessage(ctx context.Context, tableID string, record chatRecord) error {
	return s.gw.saveChatMessage(ctx, tableID, record)
}

// broadcastChatMessage delivers record to local subscribers and publishes
// it on the shared bus so every other instance's ingress handler delivers
// it to its own local subscribers.
func (s *session) broadcastChatMessage(ctx context.Context, tableID string, record chatRecord) {
	envelope := chatMessageMsg{Type: typeChatMessage, TableID: tableID, Message: record}
	s.gw.deliver(ctx, chatChannel(tableID), envelope)

	if err := s.gw.bus.Publish(events.KindChat, tableID, map[string]interface{}{
		"id":        record.ID,
		"userId":    record.UserID,
		"username":  record.Username,
		"text":      record.Text,
		"timestamp": record.Timestamp.Format(time.RFC3339Nano),
	}); err != nil {
		logger.PubSub().Warn().Err(err).Str("tableId", tableID).Msg("broadcastChatMessage: publish failed")
		return
	}
	s.gw.metrics.BusPublished.Inc()
}
