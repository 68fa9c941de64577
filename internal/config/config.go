package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	envPrefix = "JOURNAL"
)

// Config is read from JOURNAL_* environment variables, optionally seeded from a .env file.
type Config struct {
	Port         string `envconfig:"PORT" default:"8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"journal.db"`
	Dir          string `envconfig:"DIR" default:"journal"`
	MaxBodyBytes int64  `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	Provider             string `envconfig:"PROVIDER" default:"gemini"`
	GeminiAPIKey         string `envconfig:"GEMINI_API_KEY"`
	GeminiChatModel      string `envconfig:"GEMINI_CHAT_MODEL"`
	GeminiEmbeddingModel string `envconfig:"GEMINI_EMBEDDING_MODEL"`
	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `envconfig:"OPENAI_BASE_URL"`
	OpenAIChatModel      string `envconfig:"OPENAI_CHAT_MODEL"`
	OpenAIEmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL"`

	// Embeddings turns similarity search off when false; retrieval is then keyword-only.
	Embeddings      bool          `envconfig:"EMBEDDINGS" default:"true"`
	EmbeddingDims   int           `envconfig:"EMBEDDING_DIMS"`
	EmbedAttempts   int           `envconfig:"EMBED_ATTEMPTS" default:"3"`
	EmbedRetryDelay time.Duration `envconfig:"EMBED_RETRY_DELAY" default:"1s"`

	ChunkSize         int     `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap      int     `envconfig:"CHUNK_OVERLAP" default:"100"`
	RetrievalLimit    int     `envconfig:"RETRIEVAL_LIMIT" default:"5"`
	MaxRetrievalLimit int     `envconfig:"MAX_RETRIEVAL_LIMIT" default:"10"`
	MinCandidates     int     `envconfig:"MIN_CANDIDATES" default:"20"`
	DedupThreshold    float64 `envconfig:"DEDUP_THRESHOLD" default:"0.8"`
	SnippetLength     int     `envconfig:"SNIPPET_LENGTH" default:"200"`

	SystemPrompt     string `envconfig:"SYSTEM_PROMPT"`
	Windowing        bool   `envconfig:"WINDOWING" default:"true"`
	SummaryThreshold int    `envconfig:"SUMMARY_THRESHOLD" default:"3000"`
	MinMessages      int    `envconfig:"MIN_MESSAGES" default:"6"`
	WindowSize       int    `envconfig:"WINDOW_SIZE" default:"4"`

	EmbedSchedule   string `envconfig:"EMBED_SCHEDULE" default:"@every 30s"`
	EmbedBatchSize  int    `envconfig:"EMBED_BATCH_SIZE" default:"64"`
	CacheMaxEntries int    `envconfig:"CACHE_MAX_ENTRIES" default:"10000"`

	Watch         bool          `envconfig:"WATCH" default:"true"`
	WatchDebounce time.Duration `envconfig:"WATCH_DEBOUNCE" default:"500ms"`

	SentryDSN              string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment      string  `envconfig:"SENTRY_ENVIRONMENT" default:"development"`
	SentryTracesSampleRate float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("JOURNAL_GEMINI_API_KEY is required for the gemini provider"))
		}
	case ProviderOpenAI:
		// Local OpenAI-compatible servers such as Ollama need no key.
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("JOURNAL_OPENAI_API_KEY or JOURNAL_OPENAI_BASE_URL is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q, want %s or %s", c.Provider, ProviderGemini, ProviderOpenAI))
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.ChunkOverlap, c.ChunkSize))
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		errs = append(errs, fmt.Errorf("dedup threshold %v must be in (0, 1]", c.DedupThreshold))
	}
	if c.RetrievalLimit <= 0 {
		errs = append(errs, fmt.Errorf("retrieval limit %d must be positive", c.RetrievalLimit))
	}
	if c.MaxRetrievalLimit < c.RetrievalLimit {
		errs = append(errs, fmt.Errorf("max retrieval limit %d must be at least the retrieval limit %d", c.MaxRetrievalLimit, c.RetrievalLimit))
	}
	if c.EmbeddingDims < 0 {
		errs = append(errs, fmt.Errorf("embedding dimensions %d must not be negative", c.EmbeddingDims))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Dimensions is the configured embedding width, or the provider model's default.
func (c *Config) Dimensions() int {
	if c.EmbeddingDims > 0 {
		return c.EmbeddingDims
	}
	if c.Provider == ProviderOpenAI {
		return 1536
	}
	return 768
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
