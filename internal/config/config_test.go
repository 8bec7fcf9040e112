package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "RUN_POLL_INTERVAL", "RUN_TIMEOUT", "CORS_ALLOWED_ORIGINS", "LOG_LEVEL", "OPENAI_BASE_URL", "RELAY_BACKEND", "EMBEDDING_MODEL", "RAG_TOP_K"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, time.Second, cfg.Upstream.PollInterval)
	require.Equal(t, 30*time.Second, cfg.Upstream.RunTimeout)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Equal(t, "https://api.openai.com/v1", cfg.Upstream.BaseURL)
	require.Equal(t, BackendAssistants, cfg.Backend)
	require.False(t, cfg.RetrievalEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("RUN_POLL_INTERVAL", "250ms")
	t.Setenv("RUN_TIMEOUT", "5s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Port)
	require.Equal(t, 250*time.Millisecond, cfg.Upstream.PollInterval)
	require.Equal(t, 5*time.Second, cfg.Upstream.RunTimeout)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadCompletionsBackend(t *testing.T) {
	t.Setenv("RELAY_BACKEND", "Completions")
	t.Setenv("COMPLETIONS_MODEL", "mistral")
	t.Setenv("COMPLETIONS_TEMPERATURE", "0.7")
	t.Setenv("EMBEDDING_MODEL", "nomic-embed-text")
	t.Setenv("RAG_TOP_K", "3")
	// The assistants settings are not checked for this backend.
	t.Setenv("SECRETS_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendCompletions, cfg.Backend)
	require.Equal(t, "http://localhost:11434/v1", cfg.Completions.BaseURL)
	require.Equal(t, "mistral", cfg.Completions.Model)
	require.InDelta(t, 0.7, cfg.Completions.Temperature, 1e-9)
	require.Equal(t, 180*time.Second, cfg.Completions.HTTPTimeout)
	require.Equal(t, 3, cfg.Completions.ContextChunks)
	require.True(t, cfg.RetrievalEnabled())
}

func TestLoadRejectsBadBackendSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"RELAY_BACKEND": "ollama"}},
		{name: "empty model", env: map[string]string{"RELAY_BACKEND": "completions", "COMPLETIONS_MODEL": ""}},
		{name: "temperature out of range", env: map[string]string{"RELAY_BACKEND": "completions", "COMPLETIONS_TEMPERATURE": "3"}},
		{name: "negative top k", env: map[string]string{"RELAY_BACKEND": "completions", "RAG_TOP_K": "-1"}},
		{name: "assistants without secrets path", env: map[string]string{"RELAY_BACKEND": "assistants", "SECRETS_PATH": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadRejectsTimeoutBelowInterval(t *testing.T) {
	t.Setenv("RUN_POLL_INTERVAL", "2s")
	t.Setenv("RUN_TIMEOUT", "1s")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadSecrets(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.toml")
	require.NoError(t, os.WriteFile(path, []byte("openai_api_key = \" sk-abc \"\nassistant_id = \"asst_123\"\n"), 0600))

	s, err := LoadSecrets(path)
	require.NoError(t, err)
	require.Equal(t, "sk-abc", s.OpenAIAPIKey)
	require.Equal(t, "asst_123", s.AssistantID)
}

func TestLoadSecretsFailsFast(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := LoadSecrets(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)

	partial := filepath.Join(dir, "partial.toml")
	require.NoError(t, os.WriteFile(partial, []byte("openai_api_key = \"sk-abc\"\n"), 0600))
	_, err = LoadSecrets(partial)
	require.ErrorContains(t, err, "assistant_id")

	broken := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte("openai_api_key = \n"), 0600))
	_, err = LoadSecrets(broken)
	require.Error(t, err)
}
