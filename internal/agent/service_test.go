package agent

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ashureev/chef-cts/internal/assistant"
	"github.com/ashureev/chef-cts/internal/assistant/assistanttest"
	"github.com/stretchr/testify/require"
)

var fastOptions = Options{PollInterval: 5 * time.Millisecond, RunTimeout: 2 * time.Second}

func newTestService(t *testing.T, srv *assistanttest.Server, opts Options) *Service {
	t.Helper()
	client, err := assistant.NewClient(assistant.ClientConfig{
		APIKey:      assistanttest.APIKey,
		AssistantID: assistanttest.AssistantID,
		BaseURL:     srv.BaseURL(),
	})
	require.NoError(t, err)
	return NewService(client, opts, nil)
}

func strPtr(s string) *string { return &s }

func TestChatCreatesThreadOnFirstTurn(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	srv.SetStatuses("queued", "in_progress", "completed")
	srv.Reply = "Dill and lemon thyme."
	svc := newTestService(t, srv, fastOptions)

	res, err := svc.Chat(context.Background(), ChatRequest{Message: "What herbs pair with salmon?"})
	require.NoError(t, err)
	require.Equal(t, "conv_1", res.ThreadID)
	require.Equal(t, "run_1", res.RunID)
	require.Equal(t, "Dill and lemon thyme.", res.Reply)
	require.True(t, res.ThreadCreated)
	require.Equal(t, StageReplyFetched, res.Stage)
	require.Equal(t, 3, res.Polls)
	require.NotEmpty(t, res.TurnID)

	require.Equal(t, []assistanttest.Endpoint{
		assistanttest.CreateThread,
		assistanttest.AddMessage,
		assistanttest.CreateRun,
		assistanttest.RetrieveRun,
		assistanttest.RetrieveRun,
		assistanttest.RetrieveRun,
		assistanttest.ListMessages,
	}, srv.Endpoints())
	require.Equal(t, 1, srv.Count(assistanttest.CreateThread))
}

func TestChatReusesSuppliedThread(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	svc := newTestService(t, srv, fastOptions)

	res, err := svc.Chat(context.Background(), ChatRequest{Message: "And for trout?", ThreadID: strPtr("thread_abc")})
	require.NoError(t, err)
	require.Equal(t, "thread_abc", res.ThreadID)
	require.False(t, res.ThreadCreated)
	require.Zero(t, srv.Count(assistanttest.CreateThread))

	for _, call := range srv.Calls() {
		require.Contains(t, call.Path, "/threads/thread_abc/")
	}
}

func TestChatEmptyThreadIDCreatesThread(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	svc := newTestService(t, srv, fastOptions)

	res, err := svc.Chat(context.Background(), ChatRequest{Message: "hi", ThreadID: strPtr("")})
	require.NoError(t, err)
	require.Equal(t, "conv_1", res.ThreadID)
	require.Equal(t, 1, srv.Count(assistanttest.CreateThread))
}

func TestChatRoundTripCreatesOneThread(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	svc := newTestService(t, srv, fastOptions)
	ctx := context.Background()

	first, err := svc.Chat(ctx, ChatRequest{Message: "What herbs pair with salmon?"})
	require.NoError(t, err)

	second, err := svc.Chat(ctx, ChatRequest{Message: "How long do I bake it?", ThreadID: strPtr(first.ThreadID)})
	require.NoError(t, err)

	require.Equal(t, first.ThreadID, second.ThreadID)
	require.Equal(t, 1, srv.Count(assistanttest.CreateThread))
	require.Equal(t, 2, srv.Count(assistanttest.AddMessage))
	require.Equal(t, "run_2", second.RunID)
}

func TestChatRejectsEmptyMessageWithoutRemoteCalls(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	svc := newTestService(t, srv, fastOptions)

	for _, msg := range []string{"", "   ", "\n\t"} {
		res, err := svc.Chat(context.Background(), ChatRequest{Message: msg})
		require.ErrorIs(t, err, assistant.ErrValidation)
		require.Equal(t, StageStart, res.Stage)
	}
	require.Empty(t, srv.Calls())
}

func TestChatSendsTrimmedMessage(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	svc := newTestService(t, srv, fastOptions)

	_, err := svc.Chat(context.Background(), ChatRequest{Message: "  salt?  "})
	require.NoError(t, err)
	require.Equal(t, "salt?", srv.Calls()[1].Body["content"])
}

func TestChatTimesOutAndStopsPolling(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	srv.SetStatuses("in_progress")
	svc := newTestService(t, srv, Options{PollInterval: 10 * time.Millisecond, RunTimeout: 80 * time.Millisecond})

	started := time.Now()
	res, err := svc.Chat(context.Background(), ChatRequest{Message: "slow one"})
	require.ErrorIs(t, err, assistant.ErrTimeout)
	require.Equal(t, "timeout", assistant.Kind(err))
	require.Equal(t, StageTimeout, res.Stage)
	require.Less(t, time.Since(started), time.Second)

	callsAtReturn := len(srv.Calls())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, callsAtReturn, len(srv.Calls()))
	require.Zero(t, srv.Count(assistanttest.ListMessages))
	require.Positive(t, srv.Count(assistanttest.RetrieveRun))
}

func TestChatRunFailed(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	srv.SetStatuses("queued", "failed")
	srv.RunError = "Sorry, something went wrong."
	svc := newTestService(t, srv, fastOptions)

	res, err := svc.Chat(context.Background(), ChatRequest{Message: "fail please"})
	require.ErrorIs(t, err, assistant.ErrRunFailed)
	require.Contains(t, err.Error(), "Sorry, something went wrong.")
	require.Equal(t, StageRunFailed, res.Stage)
	require.Zero(t, srv.Count(assistanttest.ListMessages))
}

func TestChatAbortsOnFirstHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		failAt    assistanttest.Endpoint
		wantCalls []assistanttest.Endpoint
		wantStage Stage
	}{
		{
			failAt:    assistanttest.CreateThread,
			wantCalls: []assistanttest.Endpoint{assistanttest.CreateThread},
			wantStage: StageStart,
		},
		{
			failAt:    assistanttest.AddMessage,
			wantCalls: []assistanttest.Endpoint{assistanttest.CreateThread, assistanttest.AddMessage},
			wantStage: StageConversationReady,
		},
		{
			failAt:    assistanttest.CreateRun,
			wantCalls: []assistanttest.Endpoint{assistanttest.CreateThread, assistanttest.AddMessage, assistanttest.CreateRun},
			wantStage: StageMessageSubmitted,
		},
		{
			failAt: assistanttest.RetrieveRun,
			wantCalls: []assistanttest.Endpoint{
				assistanttest.CreateThread, assistanttest.AddMessage, assistanttest.CreateRun, assistanttest.RetrieveRun,
			},
			wantStage: StageRunPolling,
		},
		{
			failAt: assistanttest.ListMessages,
			wantCalls: []assistanttest.Endpoint{
				assistanttest.CreateThread, assistanttest.AddMessage, assistanttest.CreateRun,
				assistanttest.RetrieveRun, assistanttest.ListMessages,
			},
			wantStage: StageRunCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.failAt), func(t *testing.T) {
			t.Parallel()

			srv := assistanttest.NewServer()
			defer srv.Close()
			srv.Fail(tt.failAt, http.StatusInternalServerError, "The server had an error")
			svc := newTestService(t, srv, fastOptions)

			res, err := svc.Chat(context.Background(), ChatRequest{Message: "hello"})
			var httpErr *assistant.HTTPError
			require.True(t, errors.As(err, &httpErr))
			require.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
			require.Equal(t, "The server had an error", httpErr.Message)
			require.Equal(t, tt.wantStage, res.Stage)
			require.Equal(t, tt.wantCalls, srv.Endpoints())
		})
	}
}

func TestChatMissingReplyText(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	srv.OmitReply = true
	svc := newTestService(t, srv, fastOptions)

	res, err := svc.Chat(context.Background(), ChatRequest{Message: "hello"})
	require.ErrorIs(t, err, assistant.ErrMalformedResponse)
	require.Equal(t, StageRunCompleted, res.Stage)
}

func TestChatParentCancelIsNotTimeout(t *testing.T) {
	t.Parallel()

	srv := assistanttest.NewServer()
	defer srv.Close()
	srv.SetStatuses("in_progress")
	svc := newTestService(t, srv, Options{PollInterval: 10 * time.Millisecond, RunTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	res, err := svc.Chat(ctx, ChatRequest{Message: "leaving soon"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, assistant.ErrTimeout)
	require.Equal(t, StageRunPolling, res.Stage)
}

type stubBackend struct {
	statuses []assistant.RunStatus
	polls    int
}

func (s *stubBackend) CreateThread(context.Context) (string, error) { return "conv_stub", nil }
func (s *stubBackend) AddUserMessage(context.Context, string, string) (string, error) {
	return "msg_stub", nil
}
func (s *stubBackend) StartRun(context.Context, string) (string, error) { return "run_stub", nil }
func (s *stubBackend) GetRun(context.Context, string, string) (assistant.RunStatus, error) {
	st := s.statuses[min(s.polls, len(s.statuses)-1)]
	s.polls++
	return st, nil
}
func (s *stubBackend) LatestReply(context.Context, string, string) (string, error) {
	return "", nil
}

func TestChatEmptyReplyIsNotAnError(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{statuses: []assistant.RunStatus{{State: assistant.RunCompleted, Raw: "completed"}}}
	svc := NewService(backend, fastOptions, nil)

	res, err := svc.Chat(context.Background(), ChatRequest{Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, "", res.Reply)
	require.Equal(t, "conv_stub", res.ThreadID)
	require.Equal(t, 1, backend.polls)
}

func TestNewServiceDefaults(t *testing.T) {
	t.Parallel()

	svc := NewService(&stubBackend{}, Options{}, nil)
	require.Equal(t, DefaultOptions(), svc.opts)
}
