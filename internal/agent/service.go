package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/chef-cts/internal/assistant"
	"github.com/google/uuid"
)

// Service relays chat turns through the Assistants API, one turn per call.
// It holds no conversation state; the thread id travels with each request.
type Service struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
}

// NewService creates a relay service. Zero option fields fall back to DefaultOptions.
func NewService(backend Backend, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = def.RunTimeout
	}
	return &Service{backend: backend, opts: opts, logger: logger}
}

// Chat relays one user message and returns the assistant's reply.
//
// The steps run strictly in order: ensure thread, add message, start run,
// poll until terminal, fetch reply. The first failure aborts the turn; nothing
// is retried. The returned TurnResult is never nil and records how far the
// turn got, even on error.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*TurnResult, error) {
	started := time.Now()
	res := &TurnResult{
		TurnID:   uuid.NewString(),
		ThreadID: req.Thread(),
		Stage:    StageStart,
	}
	defer func() { res.Duration = time.Since(started) }()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return res, fmt.Errorf("empty message: %w", assistant.ErrValidation)
	}

	if res.ThreadID == "" {
		threadID, err := s.backend.CreateThread(ctx)
		if err != nil {
			return res, fmt.Errorf("create thread: %w", err)
		}
		res.ThreadID = threadID
		res.ThreadCreated = true
		s.logger.Debug("Thread created", "turn_id", res.TurnID, "thread_id", threadID)
	}
	res.Stage = StageConversationReady

	if _, err := s.backend.AddUserMessage(ctx, res.ThreadID, message); err != nil {
		return res, fmt.Errorf("add message: %w", err)
	}
	res.Stage = StageMessageSubmitted

	runID, err := s.backend.StartRun(ctx, res.ThreadID)
	if err != nil {
		return res, fmt.Errorf("start run: %w", err)
	}
	res.RunID = runID
	res.Stage = StageRunStarted

	if err := s.awaitRun(ctx, res); err != nil {
		return res, err
	}
	res.Stage = StageRunCompleted

	reply, err := s.backend.LatestReply(ctx, res.ThreadID, res.RunID)
	if err != nil {
		return res, fmt.Errorf("fetch reply: %w", err)
	}
	res.Reply = reply
	res.Stage = StageReplyFetched

	return res, nil
}

// awaitRun polls the run every PollInterval until it is terminal. The run
// budget bounds the whole wait, including an in-flight poll, and the parent
// context aborts it on client disconnect or shutdown.
func (s *Service) awaitRun(ctx context.Context, res *TurnResult) error {
	res.Stage = StageRunPolling

	pollCtx, cancel := context.WithTimeoutCause(ctx, s.opts.RunTimeout, assistant.ErrTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return s.pollAborted(ctx, pollCtx, res)
		case <-ticker.C:
		}
		if pollCtx.Err() != nil {
			return s.pollAborted(ctx, pollCtx, res)
		}

		status, err := s.backend.GetRun(pollCtx, res.ThreadID, res.RunID)
		res.Polls++
		if err != nil {
			if pollCtx.Err() != nil {
				return s.pollAborted(ctx, pollCtx, res)
			}
			return fmt.Errorf("poll run %s: %w", res.RunID, err)
		}

		s.logger.Debug("Run polled", "turn_id", res.TurnID, "run_id", res.RunID, "status", status.Raw, "poll", res.Polls)

		switch status.State {
		case assistant.RunCompleted:
			return nil
		case assistant.RunFailed:
			res.Stage = StageRunFailed
			if status.LastError != "" {
				return fmt.Errorf("run %s %s: %s: %w", res.RunID, status.Raw, status.LastError, assistant.ErrRunFailed)
			}
			return fmt.Errorf("run %s %s: %w", res.RunID, status.Raw, assistant.ErrRunFailed)
		}
	}
}

func (s *Service) pollAborted(parent, pollCtx context.Context, res *TurnResult) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("await run %s: %w", res.RunID, err)
	}
	cause := context.Cause(pollCtx)
	if errors.Is(cause, assistant.ErrTimeout) {
		res.Stage = StageTimeout
		return fmt.Errorf("run %s not finished after %s: %w", res.RunID, s.opts.RunTimeout, cause)
	}
	return fmt.Errorf("await run %s: %w", res.RunID, cause)
}
