package agent

import (
	"context"

	"github.com/ashureev/chef-cts/internal/assistant"
	"github.com/ashureev/chef-cts/internal/domain"
	"github.com/ashureev/chef-cts/internal/knowledge"
)

// Relay answers one widget chat turn. The returned TurnResult is never nil.
type Relay interface {
	Chat(ctx context.Context, req ChatRequest) (*TurnResult, error)
}

// Backend is the remote assistant surface the assistants relay drives.
type Backend interface {
	// CreateThread opens a new remote conversation.
	CreateThread(ctx context.Context) (string, error)

	// AddUserMessage appends the user's message to a conversation.
	AddUserMessage(ctx context.Context, threadID, content string) (string, error)

	// StartRun invokes the assistant on a conversation.
	StartRun(ctx context.Context, threadID string) (string, error)

	// GetRun polls a run once.
	GetRun(ctx context.Context, threadID, runID string) (assistant.RunStatus, error)

	// LatestReply returns the newest assistant text for the run.
	LatestReply(ctx context.Context, threadID, runID string) (string, error)
}

// Completer asks a chat model for one reply.
type Completer interface {
	Complete(ctx context.Context, messages []domain.Message) (string, error)
}

// Retriever returns up to k knowledge passages relevant to query.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// TurnRecorder receives one record per turn. Implementations must not block for long.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, turn *domain.TurnRecord) error
}

var (
	_ Backend   = (*assistant.Client)(nil)
	_ Completer = (*assistant.CompletionClient)(nil)
	_ Retriever = (*knowledge.Index)(nil)
	_ Relay     = (*Service)(nil)
	_ Relay     = (*CompletionService)(nil)
)
