package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gwi.com/journal-companion/internal/chunker"
	"gwi.com/journal-companion/internal/config"
	"gwi.com/journal-companion/internal/core"
	"gwi.com/journal-companion/internal/store"
	"gwi.com/journal-companion/internal/telemetry"
)

// provider is what a model backend offers: embeddings, chat and titles.
type provider interface {
	core.Embedder
	core.ChatCompleter
	core.TitleGenerator
	ModelName() string
}

// app holds the wired services shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.SQLiteStore
	index     *core.VectorIndex
	retrieval core.RetrievalConfig
	rag       *core.RAGService
	journal   *core.JournalService
	chat      *core.ChatService
	worker    *core.EmbeddingWorker
	closers   []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	if cfg.HasSentry() {
		flush, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: cfg.SentryTracesSampleRate,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, flush)
	} else {
		logger.Debug("error reporting disabled, no Sentry DSN configured")
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath, cfg.Dir, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, func() { st.Close() })

	llm, err := newProvider(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := llm.(interface{ Close() }); ok {
		a.closers = append(a.closers, c.Close)
	}

	dims := cfg.Dimensions()
	var embedder core.Embedder = core.NullEmbedder{}
	if cfg.Embeddings {
		retrying := core.NewRetryingEmbedder(llm, cfg.EmbedAttempts, cfg.EmbedRetryDelay, dims, logger)
		embedder = core.NewCachedEmbedder(retrying, st, llm.ModelName(), logger)
	}

	chunkOpts := chunker.Options{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	a.index = core.NewVectorIndex(st, dims, chunkOpts, logger)
	a.retrieval = core.RetrievalConfig{
		Limit:          cfg.RetrievalLimit,
		MaxLimit:       cfg.MaxRetrievalLimit,
		MinCandidates:  cfg.MinCandidates,
		DedupThreshold: cfg.DedupThreshold,
		SnippetLength:  cfg.SnippetLength,
		Chunk:          chunkOpts,
	}
	a.rag = core.NewRAGService(a.index, st, embedder, embedder, logger)
	a.journal = core.NewJournalService(st, a.index, logger)

	ctxCfg := core.DefaultContextConfig()
	if cfg.SystemPrompt != "" {
		ctxCfg.SystemPrompt = cfg.SystemPrompt
	}
	ctxCfg.Windowing = cfg.Windowing
	ctxCfg.SummaryThreshold = cfg.SummaryThreshold
	ctxCfg.MinMessages = cfg.MinMessages
	ctxCfg.WindowSize = cfg.WindowSize
	builder := core.NewContextBuilder(st, llm, ctxCfg, logger)

	a.chat = core.NewChatService(st, a.rag, builder, llm, llm, core.ChatServiceOptions{Retrieval: a.retrieval}, logger)
	a.worker = core.NewEmbeddingWorker(a.index, embedder, st, core.EmbeddingWorkerOptions{
		Schedule:        cfg.EmbedSchedule,
		BatchSize:       cfg.EmbedBatchSize,
		CacheMaxEntries: cfg.CacheMaxEntries,
		Passages:        chunkOpts,
	}, logger)
	return a, nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return core.NewOpenAIService(core.OpenAIOptions{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			ChatModel:      cfg.OpenAIChatModel,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
		}), nil
	default:
		llm, err := core.NewLLMService(ctx, core.LLMOptions{
			APIKey:         cfg.GeminiAPIKey,
			ChatModel:      cfg.GeminiChatModel,
			EmbeddingModel: cfg.GeminiEmbeddingModel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini: %w", err)
		}
		return llm, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
