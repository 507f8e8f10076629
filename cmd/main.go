package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cexll/ci-agent/internal/api"
	"github.com/cexll/ci-agent/internal/cache"
	"github.com/cexll/ci-agent/internal/catalog"
	"github.com/cexll/ci-agent/internal/config"
	"github.com/cexll/ci-agent/internal/credits"
	"github.com/cexll/ci-agent/internal/dispatcher"
	"github.com/cexll/ci-agent/internal/history"
	"github.com/cexll/ci-agent/internal/intel"
	"github.com/cexll/ci-agent/internal/jobs"
	"github.com/cexll/ci-agent/internal/knowledge"
	"github.com/cexll/ci-agent/internal/observability"
	"github.com/cexll/ci-agent/internal/provider"
	"github.com/cexll/ci-agent/internal/research"
	"github.com/cexll/ci-agent/internal/session"
	"github.com/cexll/ci-agent/internal/web"
	"github.com/cexll/ci-agent/internal/webhook"
)

const websiteMaxChars = 8000

var (
	loadDotEnv         = godotenv.Load
	newProvider        = provider.NewProvider
	newCache           = cache.New
	newKnowledge       = knowledge.New
	openHistory        = history.Open
	newDispatcher      = dispatcher.New
	newWebHandler      = web.NewHandler
	defaultListenServe = http.ListenAndServe
)

func main() {
	// Load .env file (ignore error if file doesn't exist)
	_ = loadDotEnv()

	logger, err := newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_DEVELOPMENT") == "true")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), defaultListenServe); err != nil {
		zap.L().Fatal("server failed", zap.Error(err))
	}
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func run(ctx context.Context, serve func(string, http.Handler) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := zap.L()
	log.Info("starting competitive intelligence server",
		zap.String("version", config.Version),
		zap.Int("port", cfg.Port),
		zap.String("provider", cfg.Provider))

	llm, err := newProvider(cfg.ProviderConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	log.Info("LLM provider ready", zap.String("provider", llm.Name()), zap.String("model", llm.Model()))

	resultCache := cache.Disabled()
	if cfg.RedisEnabled {
		resultCache = newCache(ctx, cache.Config{
			URL:         cfg.RedisURL,
			Addr:        cfg.RedisAddr(),
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			DefaultTTL:  cfg.DefaultTTL,
			AnalysisTTL: cfg.AnalysisTTL,
			ResearchTTL: cfg.ResearchTTL,
			LLMTTL:      cfg.LLMTTL,
		})
	}
	defer func() { _ = resultCache.Close() }()

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		if metrics, err = observability.New(); err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Shutdown(shutdownCtx)
		}()
	}

	// Generation goes through the Redis response cache; embeddings do not.
	generator := llm
	if resultCache.Enabled() {
		generator = provider.WithCache(llm, resultCache)
	}

	var kb *knowledge.Base
	if cfg.KnowledgeEnabled {
		kb, err = newKnowledge(knowledge.Config{
			Dir:            cfg.KnowledgeDir,
			QueryCacheSize: cfg.QueryCacheSize,
			TopK:           cfg.KnowledgeTopK,
			EmbeddingModel: cfg.EmbeddingModel(),
		}, llm)
		if err != nil {
			log.Warn("knowledge base unavailable, continuing without RAG", zap.Error(err))
			kb = nil
		}
	}

	var store *history.Store
	if cfg.HistoryDBPath != "" {
		if store, err = openHistory(cfg.HistoryDBPath); err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer func() { _ = store.Close() }()
	}

	researcher := research.New(cfg.ResearchTimeout,
		research.NewWebsiteTool(&http.Client{Timeout: cfg.ResearchTimeout}, websiteMaxChars),
		research.NewGitHubTool(cfg.GitHubToken),
	)
	intelOpts := intel.Options{
		LLM:         generator,
		Researcher:  researcher,
		Store:       resultCache,
		Temperature: provider.Temperature(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
	}
	if kb != nil {
		intelOpts.Knowledge = kb
	}
	if metrics != nil {
		intelOpts.Observer = metrics
	}
	analyzer := intel.NewAnalyzer(intelOpts)
	discoverer := intel.NewDiscoverer(intelOpts)

	sessions := session.NewStore()
	defer sessions.Close()
	tracker := credits.NewTracker(cfg.DailyCredits)
	costs := jobs.Costs{Simple: cfg.SimpleCost, Deep: cfg.DeepCost, Discovery: cfg.DiscoveryCost}

	jobOpts := jobs.Options{
		Analyzer:  analyzer,
		Sessions:  sessions,
		Credits:   tracker,
		Costs:     costs,
		Retention: cfg.SessionRetention,
	}
	if kb != nil {
		jobOpts.Knowledge = kb
	}
	if store != nil {
		jobOpts.History = store
	}
	if metrics != nil {
		jobOpts.Observer = metrics
	}
	if cfg.CallbackURL != "" {
		jobOpts.Notifier = webhook.NewNotifier(cfg.CallbackURL, cfg.WebhookSecret, nil)
	}
	runner := jobs.New(jobOpts)

	queue := newDispatcher(runner, dispatcher.Config{
		Workers:           cfg.DispatcherWorkers,
		QueueSize:         cfg.DispatcherQueueSize,
		MaxAttempts:       cfg.DispatcherMaxAttempts,
		InitialBackoff:    cfg.DispatcherRetryInitial,
		BackoffMultiplier: cfg.DispatcherBackoffMultiplier,
		MaxBackoff:        cfg.DispatcherRetryMax,
	})
	runner.SetQueue(queue)
	defer queue.Shutdown(ctx)

	cat, err := catalog.Default()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	webHandler, err := newWebHandler(sessions)
	if err != nil {
		return fmt.Errorf("failed to initialize web handler: %w", err)
	}

	opts := api.Options{
		Version:          config.Version,
		LLMProvider:      llm.Name(),
		LLMModel:         llm.Model(),
		Analyzer:         analyzer,
		Discoverer:       discoverer,
		Cache:            resultCache,
		Jobs:             runner,
		Queue:            queue,
		Credits:          tracker,
		Costs:            costs,
		Sessions:         sessions,
		Catalog:          cat,
		Web:              webHandler,
		JWTSecret:        cfg.JWTSecret,
		WebhookSecret:    cfg.WebhookSecret,
		CORSOrigins:      cfg.CORSAllowedOrigins,
		Heartbeat:        cfg.HeartbeatInterval,
		SessionRetention: cfg.SessionRetention,
		MaxStreams:       cfg.MaxStreams,
	}
	if kb != nil {
		opts.Knowledge = kb
	}
	if store != nil {
		opts.History = store
	}
	if metrics != nil {
		opts.Metrics = metrics
		opts.MetricsHandler = metrics.Handler()
	}
	srv := api.New(opts)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("server listening",
		zap.String("addr", addr),
		zap.Bool("cache", resultCache.Enabled()),
		zap.Bool("rag", kb != nil),
		zap.Bool("history", store != nil),
		zap.Bool("webhook", cfg.WebhookSecret != ""),
		zap.Bool("metrics", metrics != nil))

	if err := serve(addr, srv.Handler()); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}
