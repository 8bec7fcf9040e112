package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatPath is the relay endpoint the widget posts to.
const ChatPath = "/chef_bot"

// Request is one widget turn. ThreadID is nil until the relay has issued one.
type Request struct {
	Message  string  `json:"message"`
	ThreadID *string `json:"threadId"`
}

// Reply is the relay's answer: either ThreadID and Message, or Error.
type Reply struct {
	ThreadID string
	Message  string
	Error    string
}

// Transport delivers one request and returns the relay's reply. An error
// means the request failed before a well-formed reply arrived.
type Transport interface {
	Send(ctx context.Context, req Request) (Reply, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (Reply, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, req Request) (Reply, error) {
	return f(ctx, req)
}

// StatusError is a non-2xx relay response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned HTTP %d", e.StatusCode)
}

// wireReply accepts message as a string or as {"content": "..."}.
type wireReply struct {
	ThreadID string          `json:"threadId"`
	Message  json.RawMessage `json:"message"`
	Error    string          `json:"error"`
}

func decodeReply(raw []byte) (Reply, error) {
	var w wireReply
	if err := json.Unmarshal(raw, &w); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	reply := Reply{ThreadID: w.ThreadID, Error: w.Error}

	msg := bytes.TrimSpace(w.Message)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return reply, nil
	}
	var text string
	if err := json.Unmarshal(msg, &text); err == nil {
		reply.Message = text
		return reply, nil
	}
	var nested struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(msg, &nested); err == nil {
		reply.Message = nested.Content
	}
	return reply, nil
}

// HTTPTransport posts requests to the relay's chat endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport creates a transport for the relay at baseURL.
// A nil client gets a 60 second timeout, longer than the relay's run budget.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTransport{
		endpoint: strings.TrimRight(baseURL, "/") + ChatPath,
		client:   client,
	}
}

// Send posts req and decodes the reply.
func (t *HTTPTransport) Send(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("post %s: %w", t.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, &StatusError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return decodeReply(raw)
}
