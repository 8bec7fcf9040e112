package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/chef-cts/internal/api"
	"github.com/ashureev/chef-cts/internal/assistant"
	"github.com/ashureev/chef-cts/internal/domain"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// MsgTooLarge is returned for bodies over the size limit.
const MsgTooLarge = "Your message is too long."

const recordTimeout = 2 * time.Second

// Transport labels recorded with each turn.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// Handler serves the widget-facing relay endpoints.
type Handler struct {
	svc            Relay
	recorder       TurnRecorder
	maxBodySize    int64
	originPatterns []string
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithRecorder stores one TurnRecord per turn.
func WithRecorder(rec TurnRecorder) HandlerOption {
	return func(h *Handler) { h.recorder = rec }
}

// WithMaxBodySize limits request bodies and WebSocket frames.
func WithMaxBodySize(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodySize = n
		}
	}
}

// WithOriginPatterns sets the host patterns accepted for WebSocket upgrades.
func WithOriginPatterns(patterns []string) HandlerOption {
	return func(h *Handler) { h.originPatterns = patterns }
}

// NewHandler creates a handler around either relay backend.
func NewHandler(svc Relay, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:            svc,
		maxBodySize:    defaultMaxRequestBodySize,
		originPatterns: []string{"*"},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the relay routes. The .php path keeps old widget
// builds working.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/chef_bot", h.HandleChat)
	r.HandleFunc("/chef_bot.php", h.HandleChat)
	r.Get("/ws/chef_bot", h.HandleWebSocket)
}

// HandleChat handles POST /chef_bot. Every outcome is HTTP 200 with either a
// ChatResponse or an ErrorResponse body.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.JSON(w, http.StatusOK, ErrorResponse{Error: MsgInvalidRequest})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Chat request body too large", "limit", h.maxBodySize)
			api.JSON(w, http.StatusOK, ErrorResponse{Error: MsgTooLarge})
			return
		}
		slog.Warn("Failed to read chat request body", "error", err)
		api.JSON(w, http.StatusOK, ErrorResponse{Error: MsgEmptyMessage})
		return
	}

	req, err := decodeChatRequest(raw)
	if err != nil {
		slog.Info("Invalid chat request body", "error", err)
		api.JSON(w, http.StatusOK, ErrorResponse{Error: MsgEmptyMessage})
		return
	}

	api.JSON(w, http.StatusOK, h.relay(r.Context(), req, TransportHTTP, chiMiddleware.GetReqID(r.Context())))
}

// relay runs one turn and converts the outcome into the client-facing body.
func (h *Handler) relay(ctx context.Context, req ChatRequest, transport, requestID string) any {
	res, err := h.svc.Chat(ctx, req)
	h.record(ctx, req, res, err, transport, requestID)

	if err != nil {
		kind := assistant.Kind(err)
		if errors.Is(err, assistant.ErrValidation) {
			slog.Info("Chat request rejected", "request_id", requestID, "error", err)
			return ErrorResponse{Error: MsgEmptyMessage}
		}
		slog.Error("Chef bot error",
			"request_id", requestID,
			"turn_id", res.TurnID,
			"thread_id", res.ThreadID,
			"run_id", res.RunID,
			"stage", res.Stage,
			"error_kind", kind,
			"polls", res.Polls,
			"error", err,
		)
		return ErrorResponse{Error: MsgGenericError}
	}

	slog.Info("Chef bot reply",
		"request_id", requestID,
		"turn_id", res.TurnID,
		"thread_id", res.ThreadID,
		"run_id", res.RunID,
		"thread_created", res.ThreadCreated,
		"polls", res.Polls,
		"duration_ms", res.Duration.Milliseconds(),
		"reply_length", len(res.Reply),
	)
	return ChatResponse{ThreadID: res.ThreadID, Message: res.Reply}
}

func (h *Handler) record(ctx context.Context, req ChatRequest, res *TurnResult, err error, transport, requestID string) {
	if h.recorder == nil || res == nil {
		return
	}

	turn := &domain.TurnRecord{
		TurnID:        res.TurnID,
		RequestID:     requestID,
		ThreadID:      res.ThreadID,
		RunID:         res.RunID,
		ThreadCreated: res.ThreadCreated,
		Outcome:       domain.OutcomeOK,
		Stage:         string(res.Stage),
		MessageLength: len(req.Message),
		ReplyLength:   len(res.Reply),
		Transport:     transport,
		StartedAt:     time.Now().Add(-res.Duration),
		Duration:      res.Duration,
	}
	if err != nil {
		turn.Outcome = domain.OutcomeError
		turn.ErrorKind = assistant.Kind(err)
		if errors.Is(err, assistant.ErrValidation) {
			turn.Outcome = domain.OutcomeRejected
		}
	}

	// Record even if the client already went away.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if recErr := h.recorder.RecordTurn(recCtx, turn); recErr != nil {
		slog.Warn("Failed to record turn", "turn_id", turn.TurnID, "error", recErr)
	}
}
