package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bricerising/tablegate/internal/errs"
)

// TableInfo is the normalized response of game.GetTable.
type TableInfo struct {
	TableID  string
	Name     string
	MaxSeats int
	Raw      map[string]interface{}
}

// TableState is the normalized response of game.GetTableState. HoleCards is
// nil unless the backend included hole cards for the requesting user.
type TableState struct {
	State     map[string]interface{}
	HandID    string
	HoleCards []interface{}
}

// ActionResult is the normalized response of game.SubmitAction.
type ActionResult struct {
	OK    bool
	Error string
}

// TableSummary is one row of game.ListTables.
type TableSummary struct {
	TableID string
	Name    string
	Players int
}

// GameClient is the gateway's view of the downstream game service.
// Every method takes a context carrying the caller's deadline; none of
// them retry. Callers decide whether a failure is fire-and-forget or
// must be surfaced to the client.
type GameClient interface {
	JoinSpectator(ctx context.Context, tableID, userID string) error
	LeaveSpectator(ctx context.Context, tableID, userID string) error
	GetTable(ctx context.Context, tableID string) (*TableInfo, error)
	GetTableState(ctx context.Context, tableID, userID string) (*TableState, error)
	JoinSeat(ctx context.Context, tableID, userID string, seatID int, buyInAmount float64) (*ActionResult, error)
	LeaveSeat(ctx context.Context, tableID, userID string) error
	SubmitAction(ctx context.Context, tableID, userID, action string, amount *float64) (*ActionResult, error)
	IsMuted(ctx context.Context, tableID, userID string) (bool, error)
	ListTables(ctx context.Context) ([]TableSummary, error)
}

const (
	methodJoinSpectator  = "/tablegate.game.v1.GameService/JoinSpectator"
	methodLeaveSpectator = "/tablegate.game.v1.GameService/LeaveSpectator"
	methodGetTable       = "/tablegate.game.v1.GameService/GetTable"
	methodGetTableState  = "/tablegate.game.v1.GameService/GetTableState"
	methodJoinSeat       = "/tablegate.game.v1.GameService/JoinSeat"
	methodLeaveSeat      = "/tablegate.game.v1.GameService/LeaveSeat"
	methodSubmitAction   = "/tablegate.game.v1.GameService/SubmitAction"
	methodIsMuted        = "/tablegate.game.v1.GameService/IsMuted"
	methodListTables     = "/tablegate.game.v1.GameService/ListTables"
)

// grpcGameClient implements GameClient over a shared *grpc.ClientConn using
// generic structpb-encoded requests and responses: the game service has no
// generated Go stubs in this module, so requests are built by hand and
// invoked through ClientConn.Invoke directly.
type grpcGameClient struct {
	conn *grpc.ClientConn
}

// NewGameClient wraps conn as a GameClient.
func NewGameClient(conn *grpc.ClientConn) GameClient {
	return &grpcGameClient{conn: conn}
}

func (c *grpcGameClient) invoke(ctx context.Context, method string, req map[string]interface{}) (map[string]interface{}, error) {
	args, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request for %s: %w", method, err)
	}
	reply := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, args, reply); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrUpstreamUnavailable, method, err)
	}
	return reply.AsMap(), nil
}

func (c *grpcGameClient) JoinSpectator(ctx context.Context, tableID, userID string) error {
	_, err := c.invoke(ctx, methodJoinSpectator, map[string]interface{}{"tableId": tableID, "userId": userID})
	return err
}

func (c *grpcGameClient) LeaveSpectator(ctx context.Context, tableID, userID string) error {
	_, err := c.invoke(ctx, methodLeaveSpectator, map[string]interface{}{"tableId": tableID, "userId": userID})
	return err
}

func (c *grpcGameClient) GetTable(ctx context.Context, tableID string) (*TableInfo, error) {
	resp, err := c.invoke(ctx, methodGetTable, map[string]interface{}{"tableId": tableID})
	if err != nil {
		return nil, err
	}
	info := &TableInfo{TableID: tableID, Raw: resp}
	if name, ok := resp["name"].(string); ok {
		info.Name = name
	}
	if maxSeats, ok := resp["maxSeats"].(float64); ok {
		info.MaxSeats = int(maxSeats)
	}
	return info, nil
}

func (c *grpcGameClient) GetTableState(ctx context.Context, tableID, userID string) (*TableState, error) {
	resp, err := c.invoke(ctx, methodGetTableState, map[string]interface{}{"tableId": tableID, "userId": userID})
	if err != nil {
		return nil, err
	}
	state := &TableState{}
	if s, ok := resp["state"].(map[string]interface{}); ok {
		state.State = s
	}
	if handID, ok := resp["handId"].(string); ok {
		state.HandID = handID
	}
	if cards, ok := resp["holeCards"].([]interface{}); ok {
		state.HoleCards = cards
	}
	return state, nil
}

func (c *grpcGameClient) JoinSeat(ctx context.Context, tableID, userID string, seatID int, buyInAmount float64) (*ActionResult, error) {
	resp, err := c.invoke(ctx, methodJoinSeat, map[string]interface{}{
		"tableId": tableID, "userId": userID, "seatId": float64(seatID), "buyInAmount": buyInAmount,
	})
	if err != nil {
		return nil, err
	}
	return resultFromMap(resp), nil
}

func (c *grpcGameClient) LeaveSeat(ctx context.Context, tableID, userID string) error {
	_, err := c.invoke(ctx, methodLeaveSeat, map[string]interface{}{"tableId": tableID, "userId": userID})
	return err
}

func (c *grpcGameClient) SubmitAction(ctx context.Context, tableID, userID, action string, amount *float64) (*ActionResult, error) {
	req := map[string]interface{}{"tableId": tableID, "userId": userID, "action": action}
	if amount != nil {
		req["amount"] = *amount
	}
	resp, err := c.invoke(ctx, methodSubmitAction, req)
	if err != nil {
		return nil, err
	}
	return resultFromMap(resp), nil
}

func (c *grpcGameClient) IsMuted(ctx context.Context, tableID, userID string) (bool, error) {
	resp, err := c.invoke(ctx, methodIsMuted, map[string]interface{}{"tableId": tableID, "userId": userID})
	if err != nil {
		return false, err
	}
	muted, _ := resp["isMuted"].(bool)
	return muted, nil
}

func (c *grpcGameClient) ListTables(ctx context.Context) ([]TableSummary, error) {
	resp, err := c.invoke(ctx, methodListTables, map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	rows, _ := resp["tables"].([]interface{})
	tables := make([]TableSummary, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		summary := TableSummary{}
		if id, ok := m["tableId"].(string); ok {
			summary.TableID = id
		}
		if name, ok := m["name"].(string); ok {
			summary.Name = name
		}
		if players, ok := m["players"].(float64); ok {
			summary.Players = int(players)
		}
		tables = append(tables, summary)
	}
	return tables, nil
}

func resultFromMap(resp map[string]interface{}) *ActionResult {
	result := &ActionResult{}
	if ok, isBool := resp["ok"].(bool); isBool {
		result.OK = ok
	}
	if msg, isStr := resp["error"].(string); isStr {
		result.Error = msg
	}
	return result
}
