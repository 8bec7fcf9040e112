package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WSChatPath is the relay's WebSocket endpoint.
const WSChatPath = "/ws/chef_bot"

// WebSocketTransport sends turns over one WebSocket connection. The relay
// answers frames in order, so sends are serialized on the connection.
type WebSocketTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWebSocket connects to the relay at baseURL (http, https, ws or wss).
func DialWebSocket(ctx context.Context, baseURL string) (*WebSocketTransport, error) {
	url := strings.TrimRight(baseURL, "/") + WSChatPath
	url = strings.Replace(url, "http://", "ws://", 1)
	url = strings.Replace(url, "https://", "wss://", 1)

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WebSocketTransport{conn: conn}, nil
}

// Send writes req as one frame and reads the matching reply frame.
func (t *WebSocketTransport) Send(ctx context.Context, req Request) (Reply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := wsjson.Write(ctx, t.conn, req); err != nil {
		return Reply{}, fmt.Errorf("write frame: %w", err)
	}

	var raw json.RawMessage
	if err := wsjson.Read(ctx, t.conn, &raw); err != nil {
		return Reply{}, fmt.Errorf("read frame: %w", err)
	}
	return decodeReply(raw)
}

// Close closes the connection normally.
func (t *WebSocketTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
