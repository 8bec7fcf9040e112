// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	Backend            string
	AllowedOrigins     []string
	DBPath             string
	SecretsPath        string
	LogLevel           slog.Level
	MaxRequestBodySize int64
	TurnRetention      time.Duration
	Upstream           UpstreamConfig
	Completions        CompletionsConfig
}

// Relay backends selected with RELAY_BACKEND.
const (
	BackendAssistants  = "assistants"
	BackendCompletions = "completions"
)

// UpstreamConfig controls calls to the remote Assistants API.
type UpstreamConfig struct {
	BaseURL          string
	AssistantVersion string
	HTTPTimeout      time.Duration
	PollInterval     time.Duration
	RunTimeout       time.Duration
}

// CompletionsConfig controls the local chat-completions backend
// (any OpenAI-compatible server, Ollama's /v1 by default).
type CompletionsConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	HTTPTimeout    time.Duration
	EmbeddingModel string
	KnowledgeDir   string
	ContextChunks  int
}

// Secrets are the private credentials loaded from the non-versioned secrets file.
type Secrets struct {
	OpenAIAPIKey string `toml:"openai_api_key"`
	AssistantID  string `toml:"assistant_id"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Backend:            strings.ToLower(getEnv("RELAY_BACKEND", BackendAssistants)),
		AllowedOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DBPath:             getEnv("DB_PATH", "./data/chefbot.db"),
		SecretsPath:        getEnv("SECRETS_PATH", "./config/secrets.toml"),
		LogLevel:           getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		TurnRetention:      getEnvDuration("TURN_RETENTION", 7*24*time.Hour),
		Upstream: UpstreamConfig{
			BaseURL:          getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			AssistantVersion: getEnv("ASSISTANT_VERSION", "v2"),
			HTTPTimeout:      getEnvDuration("UPSTREAM_HTTP_TIMEOUT", 20*time.Second),
			PollInterval:     getEnvDuration("RUN_POLL_INTERVAL", time.Second),
			RunTimeout:       getEnvDuration("RUN_TIMEOUT", 30*time.Second),
		},
		Completions: CompletionsConfig{
			BaseURL:        getEnv("COMPLETIONS_BASE_URL", "http://localhost:11434/v1"),
			APIKey:         getEnv("COMPLETIONS_API_KEY", ""),
			Model:          getEnv("COMPLETIONS_MODEL", "llama3.1:8b"),
			Temperature:    getEnvFloat("COMPLETIONS_TEMPERATURE", 0.3),
			HTTPTimeout:    getEnvDuration("COMPLETIONS_HTTP_TIMEOUT", 180*time.Second),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", ""),
			KnowledgeDir:   getEnv("KNOWLEDGE_DIR", "./knowledge"),
			ContextChunks:  getEnvInt("RAG_TOP_K", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}

	switch c.Backend {
	case BackendAssistants:
		return c.validateAssistants()
	case BackendCompletions:
		return c.validateCompletions()
	default:
		return fmt.Errorf("RELAY_BACKEND must be %q or %q, got %q", BackendAssistants, BackendCompletions, c.Backend)
	}
}

func (c *Config) validateAssistants() error {
	if c.SecretsPath == "" {
		return fmt.Errorf("SECRETS_PATH cannot be empty")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("OPENAI_BASE_URL cannot be empty")
	}
	if c.Upstream.PollInterval <= 0 {
		return fmt.Errorf("RUN_POLL_INTERVAL must be > 0")
	}
	if c.Upstream.RunTimeout < c.Upstream.PollInterval {
		return fmt.Errorf("RUN_TIMEOUT must be >= RUN_POLL_INTERVAL")
	}
	if c.Upstream.HTTPTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_HTTP_TIMEOUT must be > 0")
	}
	return nil
}

func (c *Config) validateCompletions() error {
	if c.Completions.BaseURL == "" {
		return fmt.Errorf("COMPLETIONS_BASE_URL cannot be empty")
	}
	if c.Completions.Model == "" {
		return fmt.Errorf("COMPLETIONS_MODEL cannot be empty")
	}
	if c.Completions.HTTPTimeout <= 0 {
		return fmt.Errorf("COMPLETIONS_HTTP_TIMEOUT must be > 0")
	}
	if c.Completions.Temperature < 0 || c.Completions.Temperature > 2 {
		return fmt.Errorf("COMPLETIONS_TEMPERATURE must be between 0 and 2")
	}
	if c.Completions.ContextChunks < 0 {
		return fmt.Errorf("RAG_TOP_K must be >= 0")
	}
	return nil
}

// RetrievalEnabled reports whether knowledge chunks are embedded and added to prompts.
func (c *Config) RetrievalEnabled() bool {
	return c.Completions.EmbeddingModel != "" && c.Completions.ContextChunks > 0
}

// LoadSecrets reads the API key and assistant id from a TOML file.
// Both values are required.
func LoadSecrets(path string) (*Secrets, error) {
	var s Secrets
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("read secrets file %s: %w", path, err)
	}
	s.OpenAIAPIKey = strings.TrimSpace(s.OpenAIAPIKey)
	s.AssistantID = strings.TrimSpace(s.AssistantID)

	if s.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("secrets file %s: openai_api_key is empty", path)
	}
	if s.AssistantID == "" {
		return nil, fmt.Errorf("secrets file %s: assistant_id is empty", path)
	}
	return &s, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
