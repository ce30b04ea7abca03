package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"regionpulse/internal/cache"
	"regionpulse/internal/config"
	"regionpulse/internal/freshness"
	"regionpulse/internal/handlers"
	"regionpulse/internal/httpserver"
	"regionpulse/internal/llm"
	"regionpulse/internal/metrics"
	"regionpulse/internal/models"
	"regionpulse/internal/reports"
	"regionpulse/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("regionpulse exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logging.Sync(logger)

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("cache_version", cfg.Cache.Version),
		zap.String("llm_base_url", cfg.LLM.BaseURL),
		zap.Strings("model_priority", cfg.Models.Priority),
		zap.String("deep_strategy", cfg.Freshness.DeepStrategy),
		zap.String("error_policy", cfg.Freshness.ErrorPolicy),
		zap.Int("tiers", len(cfg.Tiers)),
	)

	ctx := context.Background()

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == cache.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.Cache.RedisAddr),
		)
	}

	// ----- Store -----
	inner, err := cache.NewStore(ctx, cache.Config{
		Backend:     cfg.Cache.Backend,
		Prefix:      "regionpulse",
		SQLitePath:  cfg.Cache.SQLitePath,
		DatabaseURL: cfg.Cache.DatabaseURL,
	}, redisClient)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	store := cache.NewLoggingStore(inner, cfg.Cache.Backend)
	defer store.Close()

	// ----- LLM client -----
	llmClient, err := llm.NewClient(llm.Config{
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		UpstreamTimeout: cfg.LLM.Timeout,
		MaxRetries:      cfg.LLM.MaxRetries,
	}, logger.Named("llm"))
	if err != nil {
		return err
	}
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Model selection (probed once, in the background) -----
	selector := models.NewSelector(models.Config{
		Priority: cfg.Models.Priority,
		Fallback: cfg.Models.Fallback,
	}, models.ListModelsProbe(llmClient), logger.Named("models"))
	go selector.Catalog(ctx)

	// ----- Tiered cache -----
	regions := reports.DefaultRegistry()
	builder := reports.NewBuilder(llmClient, selector, regions, reports.Options{
		ElectionDate:  cfg.ElectionDate,
		PulseKeywords: cfg.PulseKeywords,
		Logger:        logger.Named("reports"),
	})
	tiers, err := builder.Tiers(cfg.Tiers)
	if err != nil {
		return err
	}

	strategy, err := freshness.ParseDeepStrategy(cfg.Freshness.DeepStrategy)
	if err != nil {
		return err
	}
	policy, err := freshness.ParseErrorPolicy(cfg.Freshness.ErrorPolicy)
	if err != nil {
		return err
	}

	opts := []freshness.Option{
		freshness.WithLogger(logger.Named("freshness")),
		freshness.WithVersion(cfg.Cache.Version),
		freshness.WithDeepStrategy(strategy),
		freshness.WithErrorPolicy(policy),
		freshness.WithProgressive(cfg.Freshness.FastTier, cfg.Freshness.DeepTier),
	}
	for _, t := range tiers {
		opts = append(opts, freshness.WithTier(t))
	}
	tierCache, err := freshness.New(store, opts...)
	if err != nil {
		return err
	}

	// ----- Handlers -----
	deepTimeout := cfg.Tier(cfg.Freshness.DeepTier).Timeout
	if deepTimeout <= 0 {
		deepTimeout = cfg.LLM.Timeout * time.Duration(cfg.LLM.MaxRetries+1)
	}
	regionHandler := handlers.NewRegionHandler(tierCache, regions, selector, handlers.Options{
		PulseTier:     cfg.Freshness.PulseTier,
		StreamTimeout: deepTimeout + 30*time.Second,
	})

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, regionHandler, httpserver.Options{
		RequestTimeout: cfg.RequestTimeout,
		ReportTimeout:  deepTimeout + 10*time.Second,
		Ready:          store.Ping,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE responses stay open until the deep report arrives
		WriteTimeout: deepTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting regionpulse",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("fast_tier", cfg.Freshness.FastTier),
		zap.String("deep_tier", cfg.Freshness.DeepTier),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
