package synchronizer

import (
	"context"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/stream"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
)

// Stream is an open telemetry stream.
type Stream interface {
	Next() (stream.Frame, error)
	SendAccessToken(token string) error
	Close() error
}

// Dialer opens the telemetry stream with the given relay token.
type Dialer func(ctx context.Context, relayToken string) (Stream, error)

// StreamDialer dials the telemetry stream of vin on the client's endpoints.
func StreamDialer(client *transport.Client, vin string) Dialer {
	url := client.StreamURL(vin)
	appID := client.Region().AppID
	return func(ctx context.Context, relayToken string) (Stream, error) {
		conn, err := stream.Dial(ctx, url, transport.StreamHeaders(appID, relayToken))
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
