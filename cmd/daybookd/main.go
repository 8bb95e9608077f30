package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/daybook-hq/daybook/internal/artifact"
	"github.com/daybook-hq/daybook/internal/auth"
	"github.com/daybook-hq/daybook/internal/briefing"
	"github.com/daybook-hq/daybook/internal/chat"
	"github.com/daybook-hq/daybook/internal/clock"
	"github.com/daybook-hq/daybook/internal/config"
	"github.com/daybook-hq/daybook/internal/ghimport"
	"github.com/daybook-hq/daybook/internal/health"
	"github.com/daybook-hq/daybook/internal/httpapi"
	"github.com/daybook-hq/daybook/internal/insight"
	"github.com/daybook-hq/daybook/internal/llm"
	"github.com/daybook-hq/daybook/internal/metrics"
	"github.com/daybook-hq/daybook/internal/notify"
	"github.com/daybook-hq/daybook/internal/ratelimit"
	"github.com/daybook-hq/daybook/internal/store"
	"github.com/daybook-hq/daybook/internal/task"
)

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Bool("ai_enabled", cfg.AIEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("github_enabled", cfg.GitHubEnabled()).
		Msg("starting daybookd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open store")
	}
	defer st.Close()

	clk := clock.System()
	m := metrics.New()

	// Rate limit policy: built-in budgets, optionally overridden from file.
	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled {
		policy := ratelimit.DefaultPolicy()
		if cfg.RateLimitPolicyPath != "" {
			policy, err = ratelimit.LoadPolicy(cfg.RateLimitPolicyPath)
			if err != nil {
				logger.Fatal().Err(err).Str("path", cfg.RateLimitPolicyPath).Msg("failed to load rate limit policy")
			}
			logger.Info().Str("path", cfg.RateLimitPolicyPath).Msg("rate limit policy loaded")
		}
		limiter = ratelimit.New(ratelimit.NewMemoryStore(), policy, clk, logger)
		go limiter.Run(ctx, cfg.RateLimitSweepEvery)
	} else {
		logger.Warn().Msg("rate limiting disabled")
	}

	// AI provider (optional).
	var provider llm.Provider
	if cfg.AIEnabled() {
		provider = llm.NewAnthropicProvider(cfg.AnthropicAPIKey,
			llm.WithModel(cfg.AnthropicModel),
			llm.WithMaxTokens(cfg.AnthropicMaxTokens),
			llm.WithHTTPClient(&http.Client{Timeout: cfg.AIRequestTimeout}),
			llm.WithLogger(logger),
		)
		logger.Info().Str("model", cfg.AnthropicModel).Msg("AI provider initialized")
	} else {
		logger.Info().Msg("AI provider not configured — AI endpoints disabled")
	}

	recorder := insight.NewRecorder(st, clk, m, logger)

	var notifier task.Notifier
	if cfg.SlackEnabled() {
		notifier = notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel, logger)
		logger.Info().Str("channel", cfg.SlackChannel).Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack not configured — skipping")
	}

	tasks := task.NewService(st, clk, recorder, notifier, logger)
	artifacts := artifact.NewService(st, logger)

	engine := insight.NewEngine(st, nil, logger)
	var refined *insight.Engine
	var orch *chat.Orchestrator
	var ops *chat.Operations
	if provider != nil {
		refined = insight.NewEngine(st, insight.NewLLMRefiner(provider, logger), logger)
		orch = chat.NewOrchestrator(st, provider, clk, logger)
		ops = chat.NewOperations(orch, artifacts, logger)
	}

	briefings := briefing.NewService(st, provider, clk, cfg.BriefingCacheTTL, logger)

	var importer *ghimport.Importer
	if cfg.GitHubEnabled() {
		importer = ghimport.New(cfg.GitHubToken, st, clk, logger)
		logger.Info().Msg("GitHub import enabled")
	} else {
		logger.Info().Msg("GitHub not configured — skipping")
	}

	checker := health.NewChecker(logger)
	checker.Register("database", health.DatabaseCheck(st.DB()))
	checker.Register("ai_provider", health.ConfiguredCheck(cfg.AIEnabled()))

	srv := httpapi.New(httpapi.Config{
		ListenAddr:  fmt.Sprintf(":%d", cfg.HTTPPort),
		CORSOrigins: cfg.CORSOrigins,
	}, httpapi.Deps{
		Auth:      auth.NewService(st, cfg.JWTSecret, cfg.AccessTokenTTL, clk, logger),
		Tasks:     tasks,
		Artifacts: artifacts,
		Insights:  engine,
		Refined:   refined,
		Chat:      orch,
		Ops:       ops,
		Briefings: briefings,
		Importer:  importer,
		Limiter:   limiter,
		Checker:   checker,
		Metrics:   m,
		Store:     st,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	cancel()
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("daybookd stopped")
}
