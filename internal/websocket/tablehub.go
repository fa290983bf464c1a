package websocket

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/bricerising/tablegate/internal/errs"
	"github.com/bricerising/tablegate/internal/logger"
	"github.com/bricerising/tablegate/internal/rpc"
)

func tableChannel(tableID string) string { return "table:" + tableID }

// subscribeTable implements SubscribeTable/ResyncTable: add the conn to
// the table channel, fire-and-forget a spectator join, then fetch the
// table and its state in parallel and send a normalized snapshot.
func (s *session) subscribeTable(ctx context.Context, tableID string) {
	s.gw.subIndex.Subscribe(ctx, s.connID, tableChannel(tableID))

	go func() {
		spectatorCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.gw.gameClient.JoinSpectator(spectatorCtx, tableID, s.userID); err != nil {
			logger.RPC().Debug().Err(err).Str("tableId", tableID).Msg("subscribeTable: JoinSpectator failed")
		}
	}()

	var (
		wg       sync.WaitGroup
		table    *rpc.TableInfo
		tableErr error
		state    *rpc.TableState
		stateErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		table, tableErr = s.gw.gameClient.GetTable(ctx, tableID)
	}()
	go func() {
		defer wg.Done()
		state, stateErr = s.gw.gameClient.GetTableState(ctx, tableID, s.userID)
	}()
	wg.Wait()
	if tableErr != nil || stateErr != nil {
		logger.RPC().Warn().Err(firstNonNil(tableErr, stateErr)).Str("tableId", tableID).Msg("subscribeTable: snapshot fetch failed")
		return
	}

	snapshot := map[string]interface{}{
		"table": table.Raw,
		"state": state.State,
	}
	s.send(tableSnapshotMsg{Type: typeTableSnapshot, TableState: snapshot})

	if len(state.HoleCards) > 0 {
		s.send(holeCardsMsg{Type: typeHoleCards, TableID: tableID, HandID: state.HandID, Cards: state.HoleCards})
	}
}

// unsubscribeTable implements UnsubscribeTable.
func (s *session) unsubscribeTable(ctx context.Context, tableID string) {
	go func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.gw.gameClient.LeaveSpectator(leaveCtx, tableID, s.userID); err != nil {
			logger.RPC().Debug().Err(err).Str("tableId", tableID).Msg("unsubscribeTable: LeaveSpectator failed")
		}
	}()
	s.gw.subIndex.Unsubscribe(ctx, s.connID, tableChannel(tableID))
}

// joinSeat implements JoinSeat.
func (s *session) joinSeat(ctx context.Context, msg joinSeatMsg) {
	seatID := int(msg.SeatID)
	if seatID < 0 || seatID > 8 {
		s.send(errorMsg{Type: typeError, Message: "invalid seat id"})
		return
	}
	buyIn := 200.0
	if msg.BuyInAmount != nil && !math.IsNaN(*msg.BuyInAmount) && !math.IsInf(*msg.BuyInAmount, 0) && *msg.BuyInAmount > 0 {
		buyIn = *msg.BuyInAmount
	}

	result, err := s.gw.gameClient.JoinSeat(ctx, msg.TableID, s.userID, seatID, buyIn)
	if err != nil {
		s.send(errorMsg{Type: typeError, Message: "Internal error"})
		return
	}
	if !result.OK {
		s.send(errorMsg{Type: typeError, Message: result.Error})
	}
}

// leaveTable implements LeaveTable: best-effort, failures ignored.
func (s *session) leaveTable(ctx context.Context, tableID string) {
	if err := s.gw.gameClient.LeaveSeat(ctx, tableID, s.userID); err != nil {
		logger.RPC().Debug().Err(err).Str("tableId", tableID).Msg("leaveTable: LeaveSeat failed")
	}
}

// action implements Action: validate, rate-limit, submit.
func (s *session) action(ctx context.Context, msg actionMsg) {
	if msg.TableID == "" {
		return
	}
	upstreamAction, err := s.validateAction(ctx, msg)
	if err != nil {
		s.send(actionResultMsg{Type: typeActionResult, TableID: msg.TableID, Accepted: false, Reason: wireReason(err)})
		return
	}

	amount := msg.Amount
	if upstreamAction != "BET" && upstreamAction != "RAISE" {
		amount = nil
	}
	result, err := s.gw.gameClient.SubmitAction(ctx, msg.TableID, s.userID, upstreamAction, amount)
	if err != nil {
		s.send(actionResultMsg{Type: typeActionResult, TableID: msg.TableID, Accepted: false, Reason: "internal_error"})
		return
	}
	s.send(actionResultMsg{Type: typeActionResult, TableID: msg.TableID, Accepted: result.OK, Reason: result.Error})
}

// validateAction maps the client action tag, requires a finite amount for
// BET/RAISE, and applies the distributed rate limit, returning the first
// policy sentinel that fails.
func (s *session) validateAction(ctx context.Context, msg actionMsg) (string, error) {
	upstreamAction, known := actionMap[msg.Action]
	if !known {
		return "", errs.ErrInvalidAction
	}
	if (upstreamAction == "BET" || upstreamAction == "RAISE") &&
		(msg.Amount == nil || math.IsNaN(*msg.Amount) || math.IsInf(*msg.Amount, 0)) {
		return "", errs.ErrMissingAmount
	}
	if !s.gw.limiter.Check(ctx, s.userID, s.ip, "action") {
		s.gw.metrics.RateLimitDenied.Inc()
		return "", errs.ErrRateLimited
	}
	return upstreamAction, nil
}

func firstNonNil(candidates ...error) error {
	for _, err := range candidates {
		if err != nil {
			return err
		}
	}
	return nil
}
