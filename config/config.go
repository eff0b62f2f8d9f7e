package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// generateWorkerID creates a unique consumer name using hostname and PID
func generateWorkerID(role string) string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%s-%d", role, hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Broker
	RedisAddr     string
	RedisPassword string

	// IMAP
	IMAPServer       string
	EmailUser        string
	EmailPassword    string
	ProviderOverride string

	// Database
	DatabaseURL string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	EmbeddingModel string
	EmbeddingDim   int

	// Poller
	ScanBatchLimit      int
	PollInterval        time.Duration
	InitialPollInterval time.Duration
	ScanWindowDays      int
	PollConcurrency     int
	SubjectGate         string // "off" or "llm"

	// SemanticFilter
	CacheOnly      bool
	TopK           int
	WatcherTTL     time.Duration

	// Consumer (Redis Stream)
	ConsumerBlockMS      int
	ConsumerMaxRetries   int
	PendingIdleTime      time.Duration
	PendingCheckInterval time.Duration

	// RPC deadlines
	IMAPTimeout   time.Duration
	LLMTimeout    time.Duration
	EmbedTimeout  time.Duration
	BrokerTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		IMAPServer:       getEnv("IMAP_SERVER", ""),
		EmailUser:        getEnv("EMAIL_USER", ""),
		EmailPassword:    getEnv("EMAIL_PASSWORD", ""),
		ProviderOverride: getEnv("IMAP_PROVIDER", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:   getEnvInt("EMBEDDING_DIM", 1536),

		ScanBatchLimit:      getEnvInt("SCAN_BATCH_LIMIT", 100),
		PollInterval:        time.Duration(getEnvInt("POLL_INTERVAL_SEC", 30)) * time.Second,
		InitialPollInterval: time.Duration(getEnvInt("INITIAL_POLL_INTERVAL_SEC", 60)) * time.Second,
		ScanWindowDays:      getEnvInt("SCAN_WINDOW_DAYS", 450),
		PollConcurrency:     getEnvInt("POLL_CONCURRENCY", 4),
		SubjectGate:         getEnv("SUBJECT_GATE", "off"),

		CacheOnly:  getEnvBool("WATCHER_CACHE_ONLY", false),
		TopK:       getEnvInt("WATCHER_TOP_K", 5),
		WatcherTTL: time.Duration(getEnvInt("WATCHER_TTL_SEC", 60)) * time.Second,

		ConsumerBlockMS:      getEnvInt("CONSUMER_BLOCK_MS", 1000),
		ConsumerMaxRetries:   getEnvInt("CONSUMER_MAX_RETRIES", 5),
		PendingIdleTime:      time.Duration(getEnvInt("PENDING_IDLE_SEC", 120)) * time.Second,
		PendingCheckInterval: time.Duration(getEnvInt("PENDING_CHECK_SEC", 30)) * time.Second,

		IMAPTimeout:   time.Duration(getEnvInt("IMAP_TIMEOUT_SEC", 10)) * time.Second,
		LLMTimeout:    time.Duration(getEnvInt("LLM_TIMEOUT_SEC", 30)) * time.Second,
		EmbedTimeout:  time.Duration(getEnvInt("EMBED_TIMEOUT_SEC", 5)) * time.Second,
		BrokerTimeout: time.Duration(getEnvInt("BROKER_TIMEOUT_SEC", 5)) * time.Second,
	}
	return cfg, nil
}

// ConsumerName returns the stream consumer name for the given stage role.
func (c *Config) ConsumerName(role string) string {
	return generateWorkerID(role)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
