package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// HTTPProbe checks reachability with a GET against the server health
// endpoint.
type HTTPProbe struct {
	healthURL string
	client    *http.Client
}

// NewHTTPProbe creates a probe against serverURL + "/health".
func NewHTTPProbe(serverURL string) *HTTPProbe {
	return &HTTPProbe{
		healthURL: serverURL + "/health",
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Check performs the health request.
func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// WebSocketProbe checks reachability by dialing the server's realtime
// endpoint and exchanging a ping. Useful where HTTP is proxied but the
// realtime channel is what the client actually depends on.
type WebSocketProbe struct {
	wsURL  string
	dialer *websocket.Dialer
}

// NewWebSocketProbe creates a probe against the given ws:// or wss:// URL.
func NewWebSocketProbe(wsURL string) *WebSocketProbe {
	return &WebSocketProbe{
		wsURL: wsURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Check dials the endpoint and sends a ping frame.
func (p *WebSocketProbe) Check(ctx context.Context) error {
	conn, _, err := p.dialer.DialContext(ctx, p.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial realtime endpoint: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("ping realtime endpoint: %w", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}
