package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"meme_bot/internal/bot"
	"meme_bot/internal/cache"
	"meme_bot/internal/chat"
	"meme_bot/internal/config"
	"meme_bot/internal/filter"
	"meme_bot/internal/generation"
	"meme_bot/internal/metrics"
	"meme_bot/internal/scheduler"
	"meme_bot/internal/source"
	"meme_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bot failed", "error", err)
		os.Exit(1)
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	m := metrics.New()

	rules, err := filter.Compile(filter.ExcludeRules(cfg.ContentExclude, cfg.ContentExcludeRe))
	if err != nil {
		return err
	}
	content := cache.New(store, source.Defaults(source.NewHTTPClient()), cache.Config{
		TTL:    cfg.CacheTTL,
		Filter: rules,
	}, m, log.With("component", "cache"))
	defer content.Wait()

	warmer, err := cache.NewWarmer(content, cache.DefaultKeepWarmInterval, log.With("component", "warmer"))
	if err != nil {
		return err
	}

	b, err := bot.New(cfg.TelegramBotToken, content, cfg, log.With("component", "bot"))
	if err != nil {
		return err
	}

	sched := scheduler.New(store, content, b, m, log.With("component", "scheduler"))
	sched.SetTickInterval(cfg.TickInterval)
	sched.SetRetryDelay(cfg.RetryDelay)

	svc := bot.Services{AutoPost: sched}
	gen, search, err := newGenerator(ctx, cfg, log)
	if err != nil {
		return err
	}
	if gen != nil {
		queue := chat.New(store, gen, b, chat.Config{
			SystemPrompt: cfg.SystemPrompt,
			HistoryLimit: cfg.HistoryLimit,
			HistoryTTL:   cfg.HistoryTTL,
			Timeout:      cfg.GenerationTimeout,
		}, m, log.With("component", "chat"))
		defer queue.Wait()
		svc.Conversations = queue
	}
	if search != nil {
		svc.Search = search
	}
	b.Attach(svc)

	if err := content.Warm(ctx); err != nil {
		log.Warn("initial cache warm-up incomplete", "error", err)
	}

	log.Info("starting bot",
		"store", cfg.StoreBackend,
		"generation", cfg.GenerationBackend(),
		"allowed_users", len(cfg.AllowedUsers),
	)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return m.Serve(ctx, cfg.MetricsAddr, log) })
	}
	g.Go(func() error {
		warmer.Start(ctx)
		return nil
	})
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		b.Run(ctx)
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	if cfg.StoreBackend == config.BackendRedis {
		store, err := storage.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Info("connected to redis")
		return store, nil
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			return nil, err
		}
	}
	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		return nil, err
	}
	return store, nil
}

// newGenerator returns the configured reply generator and, for Gemini, the
// web search answerer. Both are nil when AI chat is not configured.
func newGenerator(ctx context.Context, cfg *config.Config, log *slog.Logger) (chat.Generator, bot.Searcher, error) {
	switch cfg.GenerationBackend() {
	case config.GenerationGemini:
		g, err := generation.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log.With("component", "gemini"))
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	case config.GenerationOpenAI:
		o, err := generation.NewOpenAI(source.NewHTTPClient(), cfg.ModelURL, cfg.ModelName, cfg.ModelAPIKey, log.With("component", "openai"))
		if err != nil {
			return nil, nil, err
		}
		return o, nil, nil
	}
	log.Info("AI chat disabled: no generation backend configured")
	return nil, nil, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
