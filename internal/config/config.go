// Package config loads Opsight configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider identifies an LLM or embedding backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Embedding
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int

	// Analyzer LLM
	LLMProvider     Provider
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	BedrockRegion   string

	// Pipeline
	Workers          int           // concurrent jobs
	FileFanout       int           // concurrent files within a job
	ExternalTimeout  time.Duration // per-call timeout for external collaborators
	RetryAttempts    int
	CorrelationLimit int
	MinSimilarity    float64

	// Archive limits
	MaxArchiveBytes int64
	MaxArchiveFiles int
	MaxArchiveRatio int
	MaxNestingDepth int

	// Analyzer cache
	CacheSize int
	CacheTTL  time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "opsight"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "incidents"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		EmbedProvider:  Provider(getEnv("OPSIGHT_EMBED_PROVIDER", "ollama")),
		EmbedModel:     getEnv("OPSIGHT_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("OPSIGHT_EMBED_DIMENSION", 384),

		LLMProvider:     Provider(getEnv("OPSIGHT_LLM_PROVIDER", "ollama")),
		LLMModel:        getEnv("OPSIGHT_LLM_MODEL", "llama3.1"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		BedrockRegion:   getEnv("AWS_REGION", "us-east-1"),

		Workers:          getEnvInt("OPSIGHT_WORKERS", 4),
		FileFanout:       getEnvInt("OPSIGHT_FILE_FANOUT", 4),
		ExternalTimeout:  getEnvDuration("OPSIGHT_EXTERNAL_TIMEOUT", 60*time.Second),
		RetryAttempts:    getEnvInt("OPSIGHT_RETRY_ATTEMPTS", 3),
		CorrelationLimit: getEnvInt("OPSIGHT_CORRELATION_LIMIT", 5),
		MinSimilarity:    getEnvFloat("OPSIGHT_MIN_SIMILARITY", 0.75),

		MaxArchiveBytes: int64(getEnvInt("OPSIGHT_MAX_ARCHIVE_BYTES", 256<<20)),
		MaxArchiveFiles: getEnvInt("OPSIGHT_MAX_ARCHIVE_FILES", 1000),
		MaxArchiveRatio: getEnvInt("OPSIGHT_MAX_ARCHIVE_RATIO", 100),
		MaxNestingDepth: getEnvInt("OPSIGHT_MAX_NESTING_DEPTH", 3),

		CacheSize: getEnvInt("OPSIGHT_CACHE_SIZE", 128),
		CacheTTL:  getEnvDuration("OPSIGHT_CACHE_TTL", 30*time.Minute),

		LogFile:  getEnv("OPSIGHT_LOG_FILE", "/tmp/opsight.log"),
		LogLevel: parseLogLevel(getEnv("OPSIGHT_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
