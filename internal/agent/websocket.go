package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// HandleWebSocket serves GET /ws/chef_bot. Each text frame carries one
// ChatRequest and is answered with exactly one response frame, in order.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := chiMiddleware.GetReqID(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "request_id", requestID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	conn.SetReadLimit(h.maxBodySize)

	ctx := r.Context()
	slog.Info("Chat WebSocket connected", "request_id", requestID, "ip", r.RemoteAddr)

	for {
		typ, raw, err := conn.Read(ctx)
		if err != nil {
			h.logReadEnd(ctx, err, requestID)
			return
		}

		var resp any
		if typ != websocket.MessageText {
			resp = ErrorResponse{Error: MsgEmptyMessage}
		} else if req, decodeErr := decodeChatRequest(raw); decodeErr != nil {
			slog.Info("Invalid WebSocket chat frame", "error", decodeErr, "request_id", requestID)
			resp = ErrorResponse{Error: MsgEmptyMessage}
		} else {
			resp = h.relay(ctx, req, TransportWebSocket, requestID)
		}

		if err := wsjson.Write(ctx, conn, resp); err != nil {
			slog.Warn("Failed to write WebSocket reply", "error", err, "request_id", requestID)
			return
		}
	}
}

func (h *Handler) logReadEnd(ctx context.Context, err error, requestID string) {
	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		slog.Info("Chat WebSocket closed", "request_id", requestID)
	case status == websocket.StatusMessageTooBig:
		slog.Warn("Chat WebSocket frame too large", "limit", h.maxBodySize, "request_id", requestID)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		slog.Debug("Chat WebSocket context done", "request_id", requestID)
	default:
		slog.Warn("Chat WebSocket read failed", "error", err, "request_id", requestID)
	}
}
