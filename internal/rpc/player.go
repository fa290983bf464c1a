package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bricerising/tablegate/internal/errs"
)

// Profile is the normalized response of player.GetProfile.
type Profile struct {
	Username string
}

// PlayerClient is the gateway's view of the downstream player service.
type PlayerClient interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	SyncUsername(ctx context.Context, userID, username string) error
}

const (
	methodGetProfile   = "/tablegate.player.v1.PlayerService/GetProfile"
	methodSyncUsername = "/tablegate.player.v1.PlayerService/SyncUsername"
)

type grpcPlayerClient struct {
	conn *grpc.ClientConn
}

// NewPlayerClient wraps conn as a PlayerClient.
func NewPlayerClient(conn *grpc.ClientConn) PlayerClient {
	return &grpcPlayerClient{conn: conn}
}

func (c *grpcPlayerClient) invoke(ctx context.Context, method string, req map[string]interface{}) (map[string]interface{}, error) {
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

func (c *grpcPlayerClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	resp, err := c.invoke(ctx, methodGetProfile, map[string]interface{}{"userId": userID})
	if err != nil {
		return nil, err
	}
	profile := &Profile{}
	if p, ok := resp["profile"].(map[string]interface{}); ok {
		if username, ok := p["username"].(string); ok {
			profile.Username = username
		}
	}
	return profile, nil
}

// SyncUsername fires-and-forget a username update, used when the auth
// handshake extracts a preferred username from the token. Callers are
// expected to not wait on the result.
func (c *grpcPlayerClient) SyncUsername(ctx context.Context, userID, username string) error {
	_, err := c.invoke(ctx, methodSyncUsername, map[string]interface{}{"userId": userID, "username": username})
	return err
}
