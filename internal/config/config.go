// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
// It is immutable after Load() returns.
type Config struct {
	Port             int
	Environment      string
	DatabaseURL      string
	DatabaseMaxConns int
	RedisAddr        string

	EmbedBackend       string
	EmbedModel         string
	OpenAIEmbedModel   string
	OpenAIAPIKey       string
	OpenAIAPIBase      string
	EmbeddingDimensions int

	CompletionModel string

	SQLDefaultLimit   int
	SQLMaxLimit       int
	SQLMaxLength      int
	SQLTimeoutMS      int
	MaxSQLAttempts    int

	ChunkSize    int
	ChunkOverlap int

	RateLimitPerMinute int
	InternalAuthSecret string

	FilesMaxSizeBytes int64
	FilesScanDirs     string
	WatcherDebounce   int

	IMessageDBPath  string
	GmailClientID   string
	GmailClientSecret string
	SlackToken      string
}

// Load reads configuration from environment variables.
// DATABASE_URL is required, and INTERNAL_AUTH_SECRET is required unless
// ENVIRONMENT is "development". Every other key falls back to a default.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	cfg := &Config{
		Port:             envInt("PORT", 8080),
		Environment:      envStr("ENVIRONMENT", "development"),
		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),
		RedisAddr:        envStr("REDIS_ADDR", ""),

		EmbedBackend:        envStr("VAULT_EMBED_BACKEND", "local"),
		EmbedModel:          envStr("VAULT_EMBED_MODEL", "local-768"),
		OpenAIEmbedModel:    envStr("VAULT_OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIAPIBase:       envStr("OPENAI_API_BASE", "https://api.openai.com/v1"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),

		CompletionModel: envStr("VAULT_COMPLETION_MODEL", "gpt-4o-mini"),

		SQLDefaultLimit: envInt("VAULT_SQL_DEFAULT_LIMIT", 50),
		SQLMaxLimit:     envInt("VAULT_SQL_MAX_LIMIT", 500),
		SQLMaxLength:    envInt("VAULT_SQL_MAX_LENGTH", 20_000),
		SQLTimeoutMS:    envInt("VAULT_SQL_TIMEOUT_MS", 15_000),
		MaxSQLAttempts:  envInt("VAULT_MAX_SQL_ATTEMPTS", 3),

		ChunkSize:    envInt("VAULT_CHUNK_SIZE", 1200),
		ChunkOverlap: envInt("VAULT_CHUNK_OVERLAP", 150),

		RateLimitPerMinute: envInt("VAULT_RATE_LIMIT", 60),
		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),

		FilesMaxSizeBytes: int64(envInt("VAULT_FILES_MAX_SIZE", 10*1024*1024)),
		FilesScanDirs:     envStr("VAULT_FILES_SCAN_DIRS", ""),
		WatcherDebounce:   envInt("VAULT_WATCHER_DEBOUNCE", 5),

		IMessageDBPath:    envStr("IMESSAGE_DB_PATH", ""),
		GmailClientID:     envStr("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: envStr("GMAIL_CLIENT_SECRET", ""),
		SlackToken:        envStr("SLACK_TOKEN", ""),
	}

	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
