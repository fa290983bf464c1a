package websocket

import (
	"context"

	"github.com/bricerising/tablegate/internal/events"
	"github.com/bricerising/tablegate/internal/logger"
	"github.com/bricerising/tablegate/internal/rpc"
)

// subscribeLobby joins the session to the singleton lobby channel and
// sends it an initial table list. Every authenticated session is
// attached here on entry; the lobby subscription is converged with every
// other channel by UnsubscribeAll at disconnect.
func (s *session) subscribeLobby(ctx context.Context) {
	s.gw.subIndex.Subscribe(ctx, s.connID, events.LobbyTableID)

	tables, err := s.gw.gameClient.ListTables(ctx)
	if err != nil {
		logger.RPC().Warn().Err(err).Msg("subscribeLobby: ListTables failed")
		return
	}
	s.send(lobbyTablesUpdatedMsg{Type: typeLobbyTablesUpdated, Tables: summariesToWire(tables)})
}

func summariesToWire(summaries []rpc.TableSummary) []interface{} {
	rows := make([]interface{}, 0, len(summaries))
	for _, t := range summaries {
		rows = append(rows, map[string]interface{}{
			"tableId": t.TableID,
			"name":    t.Name,
			"players": t.Players,
		})
	}
	return rows
}
