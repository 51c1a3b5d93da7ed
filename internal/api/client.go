package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a PreviewService client on the daemon's Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes a unary method by name with the given request fields.
func (c *Client) Call(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetOrderedPreviews(ctx context.Context, tab string) (*structpb.Struct, error) {
	return c.Call(ctx, "GetOrderedPreviews", map[string]any{"tab": tab})
}

func (c *Client) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, "GetStatus", nil)
}

func (c *Client) SelectTab(ctx context.Context, tab string) (*structpb.Struct, error) {
	return c.Call(ctx, "SelectTab", map[string]any{"tab": tab})
}

func (c *Client) MarkActive(ctx context.Context, key string) (*structpb.Struct, error) {
	return c.Call(ctx, "MarkActive", map[string]any{"conversation_key": key})
}

func (c *Client) UnsyncProfile(ctx context.Context, profileID string) (*structpb.Struct, error) {
	return c.Call(ctx, "UnsyncProfile", map[string]any{"profile_id": profileID})
}

func (c *Client) Authenticate(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, "Authenticate", nil)
}

func (c *Client) Retry(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, "Retry", nil)
}

func (c *Client) Logout(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, "Logout", nil)
}

func (c *Client) Resync(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, "Resync", nil)
}

// StartConversation opens a conversation with the given profile fields.
func (c *Client) StartConversation(ctx context.Context, profile map[string]any) (*structpb.Struct, error) {
	return c.Call(ctx, "StartConversation", profile)
}

func (c *Client) GetBadge(ctx context.Context, profileID string) (*structpb.Struct, error) {
	return c.Call(ctx, "GetBadge", map[string]any{"profile_id": profileID})
}

// WatchChanges streams events whose kind starts with namespace.
func (c *Client) WatchChanges(ctx context.Context, namespace string) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchChanges"))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	in, err := structpb.NewStruct(map[string]any{"namespace": namespace})
	if err != nil {
		return nil, err
	}
	if err := x.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
