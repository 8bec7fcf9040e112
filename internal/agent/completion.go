package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/chef-cts/internal/assistant"
	"github.com/ashureev/chef-cts/internal/domain"
	"github.com/google/uuid"
)

// ChefSystemPrompt sets the persona for the chat-completions backend.
const ChefSystemPrompt = `You are Chef CTS: a playful, precise, safety-first cooking coach.
Keep replies concise and structured with clear steps and bullet points.
Always:
- Offer both US and metric measures when helpful.
- Give doneness temperatures and timing ranges, and remind about food safety.
- Suggest 1 or 2 smart substitutions with a short note on why they work.
- When users list ingredients, suggest 1 or 2 recipe ideas and a 20 to 40 minute plan.
- For kitchen disasters: cause, fastest fix, prevention tip.
If context from local knowledge is provided, prefer it for factual details and short history notes. If a fact isn't in the context, say so.
Avoid medical advice. Be friendly and encouraging :)`

const (
	// DefaultContextChunks is how many knowledge passages go into a prompt.
	DefaultContextChunks = 5

	contextHeader = "Context from local knowledge:\n"
	noContext     = "None."
	threadPrefix  = "t_"
)

// CompletionOptions tunes the chat-completions relay.
type CompletionOptions struct {
	// ContextChunks is the number of retrieved passages; 0 uses the default.
	ContextChunks int
}

// CompletionService answers each turn with one chat completion. Every prompt
// is the system prompt, the retrieved context and the user's message; earlier
// turns are not replayed, so the thread id only groups turns in logs and stats.
type CompletionService struct {
	completer Completer
	retriever Retriever
	topK      int
	logger    *slog.Logger
}

// NewCompletionService creates a relay around completer. A nil retriever
// sends every prompt with empty context.
func NewCompletionService(completer Completer, retriever Retriever, opts CompletionOptions, logger *slog.Logger) *CompletionService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ContextChunks <= 0 {
		opts.ContextChunks = DefaultContextChunks
	}
	return &CompletionService{
		completer: completer,
		retriever: retriever,
		topK:      opts.ContextChunks,
		logger:    logger,
	}
}

// Chat relays one user message. A missing thread id is minted locally.
func (s *CompletionService) Chat(ctx context.Context, req ChatRequest) (*TurnResult, error) {
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
		res.ThreadID = threadPrefix + uuid.NewString()
		res.ThreadCreated = true
	}
	res.Stage = StageConversationReady

	passages := s.retrieve(ctx, message, res)
	res.Stage = StageContextRetrieved

	reply, err := s.completer.Complete(ctx, PromptMessages(message, passages))
	if err != nil {
		return res, fmt.Errorf("complete chat: %w", err)
	}
	res.Reply = reply
	res.Stage = StageReplyFetched

	return res, nil
}

// retrieve degrades to empty context when retrieval fails; the model can
// still answer without it.
func (s *CompletionService) retrieve(ctx context.Context, message string, res *TurnResult) []string {
	if s.retriever == nil {
		return nil
	}
	passages, err := s.retriever.Search(ctx, message, s.topK)
	if err != nil {
		s.logger.Warn("Knowledge retrieval failed", "turn_id", res.TurnID, "error", err)
		return nil
	}
	s.logger.Debug("Knowledge retrieved", "turn_id", res.TurnID, "passages", len(passages))
	return passages
}

// PromptMessages builds the system prompt, context and user message.
func PromptMessages(message string, passages []string) []domain.Message {
	block := noContext
	if len(passages) > 0 {
		lines := make([]string, len(passages))
		for i, p := range passages {
			lines[i] = "- " + p
		}
		block = strings.Join(lines, "\n\n")
	}

	return []domain.Message{
		{Role: domain.RoleSystem, Content: ChefSystemPrompt},
		{Role: domain.RoleSystem, Content: contextHeader + block},
		{Role: domain.RoleUser, Content: message},
	}
}
