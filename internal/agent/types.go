// Package agent relays widget chat turns to the remote assistant.
package agent

import (
	"encoding/json"
	"time"
)

// User-facing texts. Error detail never reaches the client.
const (
	MsgGenericError   = "An error occurred. Please try again."
	MsgEmptyMessage   = "Please provide a message."
	MsgInvalidRequest = "Invalid request method."
)

// ChatRequest is the widget's request body.
type ChatRequest struct {
	Message string `json:"message"`
	// ThreadID is absent, null or empty when the widget has no conversation yet.
	ThreadID *string `json:"threadId"`
}

// Thread returns the supplied conversation id, or "" if none was supplied.
func (r ChatRequest) Thread() string {
	if r.ThreadID == nil {
		return ""
	}
	return *r.ThreadID
}

// ChatResponse is the success body. Message is always a plain string.
type ChatResponse struct {
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
}

// ErrorResponse is the failure body; it is sent with HTTP 200.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Stage names the point a turn reached in the relay sequence.
type Stage string

const (
	StageStart             Stage = "start"
	StageConversationReady Stage = "conversation_ready"
	StageMessageSubmitted  Stage = "message_submitted"
	StageRunStarted        Stage = "run_started"
	StageContextRetrieved  Stage = "context_retrieved"
	StageRunPolling        Stage = "run_polling"
	StageRunCompleted      Stage = "run_completed"
	StageReplyFetched      Stage = "reply_fetched"
	StageRunFailed         Stage = "run_failed"
	StageTimeout           Stage = "timeout"
)

// TurnResult describes a finished turn, successful or not.
type TurnResult struct {
	TurnID        string
	ThreadID      string
	RunID         string
	Reply         string
	ThreadCreated bool
	Stage         Stage
	Polls         int
	Duration      time.Duration
}

// Options tunes the relay sequence.
type Options struct {
	PollInterval time.Duration
	RunTimeout   time.Duration
}

// DefaultOptions polls once a second for up to thirty seconds.
func DefaultOptions() Options {
	return Options{
		PollInterval: time.Second,
		RunTimeout:   30 * time.Second,
	}
}

// decodeChatRequest is lenient about the message field so a non-string value
// becomes a validation failure rather than a decode failure.
func decodeChatRequest(raw []byte) (ChatRequest, error) {
	var body struct {
		Message  json.RawMessage `json:"message"`
		ThreadID *string         `json:"threadId"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ChatRequest{}, err
	}
	req := ChatRequest{ThreadID: body.ThreadID}
	var msg string
	if len(body.Message) > 0 && json.Unmarshal(body.Message, &msg) == nil {
		req.Message = msg
	}
	return req, nil
}
