package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bricerising/tablegate/internal/errs"
)

// EventClient is the gateway's view of the downstream event service: the
// system of record for lifecycle events such as SESSION_STARTED and
// SESSION_ENDED. The gateway never reads events back through this
// client; inbound domain events arrive over the pub/sub bus instead.
type EventClient interface {
	PublishEvent(ctx context.Context, eventType string, payload map[string]interface{}) error
}

const methodPublishEvent = "/tablegate.event.v1.EventService/PublishEvent"

type grpcEventClient struct {
	conn *grpc.ClientConn
}

// NewEventClient wraps conn as an EventClient.
func NewEventClient(conn *grpc.ClientConn) EventClient {
	return &grpcEventClient{conn: conn}
}

func (c *grpcEventClient) PublishEvent(ctx context.Context, eventType string, payload map[string]interface{}) error {
	body := map[string]interface{}{"type": eventType, "payload": payload}
	args, err := structpb.NewStruct(body)
	if err != nil {
		return fmt.Errorf("rpc: encode publishEvent request: %w", err)
	}
	reply := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodPublishEvent, args, reply); err != nil {
		return fmt.Errorf("%w: PublishEvent: %w", errs.ErrUpstreamUnavailable, err)
	}
	return nil
}
