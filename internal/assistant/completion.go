package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/chef-cts/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultCompletionBaseURL is Ollama's OpenAI-compatible root.
	DefaultCompletionBaseURL = "http://localhost:11434/v1"
	// DefaultCompletionTimeout leaves room for slow local models.
	DefaultCompletionTimeout = 180 * time.Second
)

// CompletionConfig configures a chat-completions client.
type CompletionConfig struct {
	// APIKey may be empty for servers that do not check it.
	APIKey  string
	BaseURL string
	Model   string
	// EmbeddingModel enables Embed. Empty disables it.
	EmbeddingModel string
	Temperature    float32
	HTTPTimeout    time.Duration
	HTTPClient     *http.Client
}

// CompletionClient asks a chat-completions model for one reply per call.
type CompletionClient struct {
	api            *openai.Client
	model          string
	embeddingModel string
	temperature    float32
}

// NewCompletionClient creates a CompletionClient. Model is required.
func NewCompletionClient(cfg CompletionConfig) (*CompletionClient, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("assistant: completion model is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = DefaultCompletionBaseURL
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = httpClient(cfg.HTTPClient, cfg.HTTPTimeout, DefaultCompletionTimeout)

	return &CompletionClient{
		api:            openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
	}, nil
}

// Complete sends the messages and returns the first choice's text, which may be empty.
func (c *CompletionClient) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: c.temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(http.MethodPost, "/chat/completions", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion has no choices: %w", ErrUpstream)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one vector per input text, in input order.
func (c *CompletionClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.embeddingModel == "" {
		return nil, errors.New("assistant: embedding model is not configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, classify(http.MethodPost, "/embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs: %w", len(resp.Data), len(texts), ErrUpstream)
	}

	out := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if e.Index < 0 || e.Index >= len(out) || len(e.Embedding) == 0 {
			return nil, fmt.Errorf("embeddings: bad vector at index %d: %w", e.Index, ErrUpstream)
		}
		out[e.Index] = e.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embeddings: missing vector %d: %w", i, ErrUpstream)
		}
	}
	return out, nil
}
