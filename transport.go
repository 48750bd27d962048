package p2pws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/otiai10/p2pws/internal/version"
)

// WebSocket endpoints of the P2P地震情報 realtime API.
const (
	ProductionEndpoint = "wss://api.p2pquake.net/v2/ws"
	SandboxEndpoint    = "wss://api-realtime-sandbox.p2pquake.net/v2/ws"
)

// EndpointResolver returns the URL to connect to. It is called once per
// connection attempt, so a resolver may rotate between relays.
type EndpointResolver func() string

// StaticEndpoint returns a resolver that always yields url.
func StaticEndpoint(url string) EndpointResolver {
	return func() string { return url }
}

// Conn is the part of a WebSocket connection the session reads from.
// The active session owns the connection exclusively.
type Conn interface {
	// ReadMessage blocks until the next frame arrives.
	ReadMessage() (messageType int, p []byte, err error)
	// Close tears the connection down. It must unblock a concurrent
	// ReadMessage.
	Close() error
}

// Dialer opens one connection to the push service.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// wsDialer dials through gorilla/websocket.
type wsDialer struct {
	dialer *websocket.Dialer
}

func newWSDialer() wsDialer {
	return wsDialer{dialer: websocket.DefaultDialer}
}

func (d wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	header.Set("User-Agent", "p2pws/"+version.CommitHash)
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}
