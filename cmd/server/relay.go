package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/chef-cts/internal/agent"
	"github.com/ashureev/chef-cts/internal/assistant"
	"github.com/ashureev/chef-cts/internal/config"
	"github.com/ashureev/chef-cts/internal/knowledge"
)

// newRelay builds the relay backend selected by RELAY_BACKEND.
func newRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.Relay, error) {
	if cfg.Backend == config.BackendCompletions {
		return newCompletionRelay(ctx, cfg, logger)
	}

	secrets, err := config.LoadSecrets(cfg.SecretsPath)
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	client, err := assistant.NewClient(assistant.ClientConfig{
		APIKey:      secrets.OpenAIAPIKey,
		AssistantID: secrets.AssistantID,
		BaseURL:     cfg.Upstream.BaseURL,
		Version:     cfg.Upstream.AssistantVersion,
		HTTPTimeout: cfg.Upstream.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant client: %w", err)
	}
	return agent.NewService(client, agent.Options{
		PollInterval: cfg.Upstream.PollInterval,
		RunTimeout:   cfg.Upstream.RunTimeout,
	}, logger), nil
}

func newCompletionRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.Relay, error) {
	cc := cfg.Completions
	client, err := assistant.NewCompletionClient(assistant.CompletionConfig{
		APIKey:         cc.APIKey,
		BaseURL:        cc.BaseURL,
		Model:          cc.Model,
		EmbeddingModel: cc.EmbeddingModel,
		Temperature:    float32(cc.Temperature),
		HTTPTimeout:    cc.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("completion client: %w", err)
	}

	var retriever agent.Retriever
	if cfg.RetrievalEnabled() {
		docs, err := knowledge.LoadDir(cc.KnowledgeDir)
		if err != nil {
			return nil, err
		}
		idx, err := knowledge.Build(ctx, client, docs)
		if err != nil {
			// The model still answers without context.
			logger.Warn("Knowledge index unavailable, continuing without context", "dir", cc.KnowledgeDir, "error", err)
		} else {
			logger.Info("Knowledge index built", "dir", cc.KnowledgeDir, "documents", len(docs), "chunks", idx.Len())
			retriever = idx
		}
	}

	return agent.NewCompletionService(client, retriever, agent.CompletionOptions{
		ContextChunks: cc.ContextChunks,
	}, logger), nil
}
