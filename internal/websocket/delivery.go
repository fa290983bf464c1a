package websocket

import (
	"context"
	"encoding/json"

	"github.com/bricerising/tablegate/internal/logger"
)

// deliver resolves channel's current subscribers, serializes payload
// once, and best-effort sends to whichever of them are local to this
// instance. Conn ids owned by other instances silently miss here; they
// are served by the instance that receives the same pub/sub event and
// runs its own deliver call.
func (gw *Gateway) deliver(ctx context.Context, channel string, payload interface{}) {
	subscribers, err := gw.subIndex.Subscribers(ctx, channel)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Str("channel", channel).Msg("deliver: failed to resolve subscribers")
		return
	}
	if len(subscribers) == 0 {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logger.WebSocket().Error().Err(err).Str("channel", channel).Msg("deliver: failed to encode payload")
		return
	}

	for _, connID := range subscribers {
		if gw.local.SendText(connID, data) {
			gw.metrics.MessagesSent.Inc()
		}
	}
}
