package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cexll/ci-agent/internal/provider"
	"go.uber.org/zap"
)

// Version is reported by /health.
const Version = "3.0.0"

// Config holds all configuration for the competitive intelligence service
type Config struct {
	// Server settings
	Port               int
	CORSAllowedOrigins []string

	// LLM provider selection
	Provider    string // "gemini" or "openai"
	Temperature float64
	MaxTokens   int

	// Gemini settings
	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string

	// OpenAI-compatible settings
	OpenAIAPIKey         string
	OpenAIBaseURL        string // Optional: custom API endpoint
	OpenAIModel          string
	OpenAIEmbeddingModel string

	// Redis cache settings
	RedisEnabled  bool
	RedisURL      string
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	DefaultTTL    time.Duration
	AnalysisTTL   time.Duration
	ResearchTTL   time.Duration
	LLMTTL        time.Duration

	// Knowledge base settings
	KnowledgeEnabled  bool
	KnowledgeDir      string
	QueryCacheSize    int
	KnowledgeTopK     int
	HistoryDBPath     string
	ResearchTimeout   time.Duration
	GitHubToken       string
	SessionRetention  time.Duration
	HeartbeatInterval time.Duration
	// MaxStreams caps concurrent SSE runs; zero disables the cap
	MaxStreams     int
	MetricsEnabled bool

	// Credits
	DailyCredits  int
	SimpleCost    int
	DeepCost      int
	DiscoveryCost int
	JWTSecret     string
	WebhookSecret string
	CallbackURL   string

	// Logging
	LogLevel       string
	LogDevelopment bool

	// Dispatcher settings
	DispatcherWorkers           int
	DispatcherQueueSize         int
	DispatcherMaxAttempts       int
	DispatcherRetryInitial      time.Duration
	DispatcherRetryMax          time.Duration
	DispatcherBackoffMultiplier float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                        getEnvInt("PORT", 8000),
		CORSAllowedOrigins:          splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		Provider:                    strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
		Temperature:                 getEnvFloat("LLM_TEMPERATURE", 0.3),
		MaxTokens:                   getEnvInt("LLM_MAX_TOKENS", 4000),
		GeminiAPIKey:                os.Getenv("GEMINI_API_KEY"),
		GeminiModel:                 getEnv("GEMINI_MODEL_NAME", "gemini-2.0-flash"),
		GeminiEmbeddingModel:        getEnv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
		OpenAIAPIKey:                os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:               os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:                 getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIEmbeddingModel:        getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		RedisEnabled:                getEnvBool("REDIS_ENABLED", true),
		RedisURL:                    os.Getenv("REDIS_URL"),
		RedisHost:                   getEnv("REDIS_HOST", "localhost"),
		RedisPort:                   getEnvInt("REDIS_PORT", 6379),
		RedisPassword:               os.Getenv("REDIS_PASSWORD"),
		RedisDB:                     getEnvInt("REDIS_DB", 0),
		DefaultTTL:                  seconds("REDIS_DEFAULT_TTL", 3600),
		AnalysisTTL:                 seconds("REDIS_ANALYSIS_TTL", 86400),
		ResearchTTL:                 seconds("REDIS_RESEARCH_TTL", 7200),
		LLMTTL:                      seconds("REDIS_GEMINI_TTL", 86400),
		KnowledgeEnabled:            getEnvBool("RAG_ENABLED", true),
		KnowledgeDir:                getEnv("RAG_PERSIST_DIR", "./data/competitive_intelligence"),
		QueryCacheSize:              getEnvInt("RAG_QUERY_CACHE_SIZE", 100),
		KnowledgeTopK:               getEnvInt("RAG_TOP_K", 3),
		HistoryDBPath:               getEnv("HISTORY_DB_PATH", "./data/history.db"),
		ResearchTimeout:             seconds("RESEARCH_FETCH_TIMEOUT_SECONDS", 15),
		GitHubToken:                 os.Getenv("GITHUB_TOKEN"),
		SessionRetention:            seconds("SESSION_RETENTION_SECONDS", 300),
		HeartbeatInterval:           time.Duration(getEnvInt("STREAM_HEARTBEAT_MS", 1000)) * time.Millisecond,
		MaxStreams:                  getEnvInt("MAX_CONCURRENT_STREAMS", 0),
		MetricsEnabled:              getEnvBool("METRICS_ENABLED", true),
		DailyCredits:                getEnvInt("DAILY_CREDITS", 10),
		SimpleCost:                  getEnvInt("CREDITS_SIMPLE_COST", 1),
		DeepCost:                    getEnvInt("CREDITS_DEEP_COST", 3),
		DiscoveryCost:               getEnvInt("CREDITS_DISCOVERY_COST", 2),
		JWTSecret:                   os.Getenv("JWT_SECRET"),
		WebhookSecret:               os.Getenv("WEBHOOK_SECRET"),
		CallbackURL:                 os.Getenv("ANALYSIS_CALLBACK_URL"),
		LogLevel:                    getEnv("LOG_LEVEL", "info"),
		LogDevelopment:              getEnvBool("LOG_DEVELOPMENT", false),
		DispatcherWorkers:           getEnvInt("DISPATCHER_WORKERS", 4),
		DispatcherQueueSize:         getEnvInt("DISPATCHER_QUEUE_SIZE", 16),
		DispatcherMaxAttempts:       getEnvInt("DISPATCHER_MAX_ATTEMPTS", 3),
		DispatcherRetryInitial:      seconds("DISPATCHER_RETRY_SECONDS", 15),
		DispatcherRetryMax:          seconds("DISPATCHER_RETRY_MAX_SECONDS", 300),
		DispatcherBackoffMultiplier: getEnvFloat("DISPATCHER_BACKOFF_MULTIPLIER", 2.0),
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RedisAddr returns host:port for the Redis connection.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// ProviderConfig returns the LLM provider settings
func (c *Config) ProviderConfig() *provider.Config {
	return &provider.Config{
		Name:                 c.Provider,
		GeminiAPIKey:         c.GeminiAPIKey,
		GeminiModel:          c.GeminiModel,
		GeminiEmbeddingModel: c.GeminiEmbeddingModel,
		OpenAIAPIKey:         c.OpenAIAPIKey,
		OpenAIBaseURL:        c.OpenAIBaseURL,
		OpenAIModel:          c.OpenAIModel,
		OpenAIEmbeddingModel: c.OpenAIEmbeddingModel,
	}
}

// EmbeddingModel is the embedding model of the selected provider
func (c *Config) EmbeddingModel() string {
	if c.Provider == "openai" {
		return c.OpenAIEmbeddingModel
	}
	return c.GeminiEmbeddingModel
}

// NewProvider builds the configured LLM provider
func (c *Config) NewProvider() (provider.Provider, error) {
	return provider.NewProvider(c.ProviderConfig())
}

// validate checks that all required configuration is present
func (c *Config) validate() error {
	if err := c.validateProviderConfig(); err != nil {
		return err
	}

	c.applyCacheDefaults()
	if err := c.validateCredits(); err != nil {
		return err
	}

	c.applyDispatcherDefaults()
	return c.validateDispatcherConfig()
}

func (c *Config) validateProviderConfig() error {
	switch c.Provider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for gemini provider")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			if c.OpenAIBaseURL == "" {
				return fmt.Errorf("OPENAI_API_KEY is required for openai provider")
			}
			zap.L().Warn("OPENAI_API_KEY not set, relying on the custom endpoint accepting anonymous requests",
				zap.String("base_url", c.OpenAIBaseURL))
		}
	default:
		return fmt.Errorf("invalid provider: %s (must be 'gemini' or 'openai')", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be greater than 0")
	}
	return nil
}

func (c *Config) applyCacheDefaults() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.AnalysisTTL <= 0 {
		c.AnalysisTTL = 24 * time.Hour
	}
	if c.ResearchTTL <= 0 {
		c.ResearchTTL = 2 * time.Hour
	}
	if c.LLMTTL <= 0 {
		c.LLMTTL = 24 * time.Hour
	}
	if c.QueryCacheSize <= 0 {
		c.QueryCacheSize = 100
	}
	if c.KnowledgeTopK <= 0 {
		c.KnowledgeTopK = 3
	}
	if c.ResearchTimeout <= 0 {
		c.ResearchTimeout = 15 * time.Second
	}
	if c.SessionRetention <= 0 {
		c.SessionRetention = 5 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.MaxStreams < 0 {
		c.MaxStreams = 0
	}
}

func (c *Config) validateCredits() error {
	if c.DailyCredits <= 0 {
		return fmt.Errorf("DAILY_CREDITS must be greater than 0")
	}
	if c.SimpleCost < 0 || c.DeepCost < 0 || c.DiscoveryCost < 0 {
		return fmt.Errorf("CREDITS_*_COST must not be negative")
	}
	return nil
}

func (c *Config) applyDispatcherDefaults() {
	if c.DispatcherWorkers <= 0 {
		c.DispatcherWorkers = 4
	}
	if c.DispatcherQueueSize <= 0 {
		c.DispatcherQueueSize = 16
	}
	if c.DispatcherMaxAttempts <= 0 {
		c.DispatcherMaxAttempts = 3
	}
	if c.DispatcherRetryInitial <= 0 {
		c.DispatcherRetryInitial = 15 * time.Second
	}
	if c.DispatcherRetryMax <= 0 {
		c.DispatcherRetryMax = 5 * time.Minute
	}
	if c.DispatcherBackoffMultiplier < 1 {
		c.DispatcherBackoffMultiplier = 2
	}
}

func (c *Config) validateDispatcherConfig() error {
	if c.DispatcherRetryMax < c.DispatcherRetryInitial {
		return fmt.Errorf("DISPATCHER_RETRY_MAX_SECONDS must be >= DISPATCHER_RETRY_SECONDS")
	}
	return nil
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
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

func seconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
