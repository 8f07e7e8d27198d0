package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/airouter/internal/ai"
	"github.com/local/airouter/internal/api"
	cfgpkg "github.com/local/airouter/internal/config"
	"github.com/local/airouter/internal/dispatcher"
	"github.com/local/airouter/internal/limiter"
	logpkg "github.com/local/airouter/internal/logger"
	"github.com/local/airouter/internal/metrics"
	"github.com/local/airouter/internal/queue"
	"github.com/local/airouter/internal/statuscheck"
	"github.com/local/airouter/internal/storage"
	"github.com/local/airouter/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	// Queue
	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	// Status store
	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init redis status store")
	}
	defer rs.Close()

	// Result store
	results, err := store.NewResultStore(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init result store")
	}
	defer results.Close()

	// Inflight limiter with shared cooldowns
	lim, err := limiter.New(limiter.Options{
		RedisURL:    cfg.Queue.RedisURL,
		MaxInflight: cfg.Worker.MaxInflightPerModel,
		BaseBackoff: cfg.Worker.BreakerBaseBackoff,
		MaxBackoff:  cfg.Worker.BreakerMaxBackoff,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init limiter")
	}
	defer lim.CloseClient()

	breaker := dispatcher.NewCircuitBreaker(rq.Client(), cfg.Worker.BreakerBaseBackoff, cfg.Worker.BreakerMaxBackoff)

	router := ai.NewRouter(ai.RouterOptions{
		OpenAI:    ai.NewOpenAIClient(cfg.Providers.OpenAIKey),
		Gemini:    ai.NewGeminiClient(cfg.Providers.GoogleKey),
		Anthropic: ai.NewAnthropicClient(cfg.Providers.AnthropicKey),
		Policy: ai.Policy{
			MaxAttempts:         cfg.Retry.MaxAttempts,
			MetadataMaxAttempts: cfg.Retry.MetadataMaxAttempts,
			BaseDelay:           cfg.Retry.BaseDelay,
			BackoffFactor:       cfg.Retry.BackoffFactor,
			TempGrowth:          cfg.Retry.TempGrowth,
			TempCap:             cfg.Retry.TempCap,
			TokenBumpAfter:      cfg.Retry.TokenBumpAfter,
			TokenBump:           cfg.Retry.TokenBump,
			TokenCap:            cfg.Retry.TokenCap,
		},
		OpenAITokens: ai.TokenLimits{
			Metadata:   cfg.Tokens.OpenAI.Metadata,
			Pagination: cfg.Tokens.OpenAI.Pagination,
			Default:    cfg.Tokens.OpenAI.Default,
		},
		AnthropicTokens: ai.TokenLimits{
			Metadata:   cfg.Tokens.Anthropic.Metadata,
			Pagination: cfg.Tokens.Anthropic.Pagination,
			Default:    cfg.Tokens.Anthropic.Default,
		},
		GeminiMaxTokens: cfg.Tokens.GeminiMax,
		DefaultTimeout:  cfg.Worker.RequestTimeout,
		Logger:          logpkg.Get(),
		Observe: func(provider, engine, result string, dur time.Duration) {
			metrics.ObserveProvider(provider, engine, result, dur)
			switch result {
			case "validation_failed", "transient", "timeout":
				metrics.IncRetry()
			}
		},
		ObserveValidation: metrics.IncValidationFailure,
	})

	// Optional S3 archive of finished jobs
	var archiver *storage.Archiver
	if cfg.Archive.Enabled && cfg.Archive.Bucket != "" {
		archiver, err = storage.NewArchiver(context.Background(), cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Password)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init S3 archiver")
		}
	}

	checker := statuscheck.New(statuscheck.Options{
		Redis:        rq,
		S3Bucket:     cfg.Archive.Bucket,
		OpenAIKey:    cfg.Providers.OpenAIKey,
		AnthropicKey: cfg.Providers.AnthropicKey,
		GoogleKey:    cfg.Providers.GoogleKey,
	})

	mux := http.NewServeMux()
	api.New(api.Dependencies{
		Router:        router,
		Queue:         rq,
		Results:       results,
		Status:        rs,
		Archiver:      archiver,
		Checker:       checker,
		DefaultEngine: cfg.Providers.DefaultEngine,
	}).RegisterRoutes(mux)

	// Worker pool (optional)
	runWorkers := os.Getenv("RUN_WORKERS")
	if runWorkers == "" || runWorkers == "1" || runWorkers == "true" {
		w := dispatcher.New(dispatcher.Config{Concurrency: cfg.Worker.Concurrency}, cfg, dispatcher.Deps{
			Queue:    rq,
			Router:   router,
			Results:  results,
			Status:   rs,
			Breaker:  breaker,
			Limiter:  lim,
			Archiver: archiver,
		})
		w.Start()
		defer w.Stop(context.Background())
	}

	// Queue depth gauges
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for range t.C {
			main, delayed, dlq, err := rq.Depths(context.Background())
			if err != nil {
				continue
			}
			metrics.SetQueueDepth("main", main)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}
