// Package assistant wraps the remote OpenAI-compatible APIs the relay talks to:
// the Assistants API (threads, messages, runs) and, for the local backend,
// chat completions and embeddings.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultBaseURL is the public OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultVersion is sent as the assistants beta marker header.
	DefaultVersion = "v2"
	// DefaultHTTPTimeout bounds a single remote call.
	DefaultHTTPTimeout = 20 * time.Second

	unknownErrorMessage = "Unknown error"
)

// RunState is the relay's view of a remote run status.
type RunState int

const (
	// RunPending means the run is still queued or working.
	RunPending RunState = iota
	// RunCompleted means the assistant produced its reply.
	RunCompleted
	// RunFailed means the run ended without a reply.
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether polling can stop.
func (s RunState) Terminal() bool {
	return s != RunPending
}

// RunStatus is a snapshot of one poll.
type RunStatus struct {
	State RunState
	// Raw is the status string reported by the remote service.
	Raw string
	// LastError carries the remote failure reason, if any.
	LastError string
}

// ClientConfig configures the remote API client.
type ClientConfig struct {
	APIKey      string
	AssistantID string
	BaseURL     string
	Version     string
	HTTPTimeout time.Duration
	// HTTPClient overrides the default client; HTTPTimeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to the remote Assistants API on behalf of one configured assistant.
type Client struct {
	api         *openai.Client
	assistantID string
}

// NewClient creates a Client. APIKey and AssistantID are required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("assistant: API key is required")
	}
	if strings.TrimSpace(cfg.AssistantID) == "" {
		return nil, errors.New("assistant: assistant ID is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.AssistantVersion = DefaultVersion
	if cfg.Version != "" {
		oc.AssistantVersion = cfg.Version
	}
	oc.HTTPClient = httpClient(cfg.HTTPClient, cfg.HTTPTimeout, DefaultHTTPTimeout)

	return &Client{
		api:         openai.NewClientWithConfig(oc),
		assistantID: cfg.AssistantID,
	}, nil
}

// CreateThread opens a new remote conversation and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", classify(http.MethodPost, "/threads", err)
	}
	if thread.ID == "" {
		return "", fmt.Errorf("create thread: %w", ErrUpstream)
	}
	return thread.ID, nil
}

// AddUserMessage appends a user message to the thread and returns the message id.
func (c *Client) AddUserMessage(ctx context.Context, threadID, content string) (string, error) {
	msg, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: content,
	})
	if err != nil {
		return "", classify(http.MethodPost, "/threads/"+threadID+"/messages", err)
	}
	if msg.ID == "" {
		return "", fmt.Errorf("add message to thread: %w", ErrUpstream)
	}
	return msg.ID, nil
}

// StartRun invokes the configured assistant on the thread and returns the run id.
func (c *Client) StartRun(ctx context.Context, threadID string) (string, error) {
	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: c.assistantID})
	if err != nil {
		return "", classify(http.MethodPost, "/threads/"+threadID+"/runs", err)
	}
	if run.ID == "" {
		return "", fmt.Errorf("run assistant: %w", ErrUpstream)
	}
	return run.ID, nil
}

// GetRun polls a run once.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (RunStatus, error) {
	run, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return RunStatus{}, classify(http.MethodGet, "/threads/"+threadID+"/runs/"+runID, err)
	}
	if run.Status == "" {
		return RunStatus{}, fmt.Errorf("retrieve run: %w", ErrUpstream)
	}
	status := RunStatus{State: mapRunStatus(run.Status), Raw: string(run.Status)}
	if run.LastError != nil {
		status.LastError = run.LastError.Message
	}
	return status, nil
}

// LatestReply returns the text of the most recent assistant message in the thread.
// When runID is set only messages produced by that run are considered.
func (c *Client) LatestReply(ctx context.Context, threadID, runID string) (string, error) {
	limit := 20
	order := "desc"
	var runFilter *string
	if runID != "" {
		runFilter = &runID
	}

	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, runFilter)
	if err != nil {
		return "", classify(http.MethodGet, "/threads/"+threadID+"/messages", err)
	}

	text, ok := latestAssistantText(list.Messages)
	if !ok {
		return "", fmt.Errorf("thread %s: %w", threadID, ErrMalformedResponse)
	}
	return text, nil
}

func latestAssistantText(messages []openai.Message) (string, bool) {
	for _, m := range messages {
		if m.Role != string(openai.ThreadMessageRoleAssistant) {
			continue
		}
		for _, part := range m.Content {
			if part.Text != nil {
				return part.Text.Value, true
			}
		}
		// Newest assistant message has no text part.
		return "", false
	}
	return "", false
}

func mapRunStatus(status openai.RunStatus) RunState {
	switch status {
	case openai.RunStatusCompleted:
		return RunCompleted
	case openai.RunStatusFailed,
		openai.RunStatusCancelled,
		openai.RunStatusExpired,
		openai.RunStatusIncomplete,
		openai.RunStatusRequiresAction:
		return RunFailed
	default:
		return RunPending
	}
}

func httpClient(override *http.Client, timeout, fallback time.Duration) *http.Client {
	if override != nil {
		return override
	}
	if timeout <= 0 {
		timeout = fallback
	}
	return &http.Client{Timeout: timeout}
}

// classify converts go-openai errors into the relay's error taxonomy.
func classify(method, path string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = unknownErrorMessage
		}
		return &HTTPError{Method: method, Path: path, StatusCode: apiErr.HTTPStatusCode, Message: msg, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &HTTPError{Method: method, Path: path, StatusCode: reqErr.HTTPStatusCode, Message: unknownErrorMessage, Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &HTTPError{Method: method, Path: path, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s %s: decode response: %w: %w", method, path, ErrUpstream, err)
	}

	return &HTTPError{Method: method, Path: path, Err: err}
}
