package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leaselens/leaselens/internal/api"
	"github.com/leaselens/leaselens/internal/config"
	"github.com/leaselens/leaselens/internal/oracle"
	"github.com/leaselens/leaselens/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Extraction oracle behind a shared guard; both passes use it.
	tel := oracle.NewTelemetry(time.Hour)
	anthropic := oracle.NewAnthropicOracle(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.OracleTimeout)
	guard := oracle.NewGuard(anthropic, oracle.GuardConfig{
		MaxConcurrent: cfg.MaxConcurrentOracle,
		MaxInputChars: cfg.OracleMaxInputChar,
		CallTimeout:   cfg.OracleTimeout,
		CacheTTL:      cfg.OracleCacheTTL,
	}, tel, log)

	// Embedding oracle is optional; similarity falls back to local
	// trigram vectors when it is not configured.
	var embedder oracle.EmbeddingOracle
	if cfg.EmbeddingURL != "" {
		embedder = oracle.NewHTTPEmbedder(cfg.EmbeddingURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim, cfg.OracleTimeout)
	}

	pipe := pipeline.New(guard, guard, pipeline.DefaultConfig(), log)
	engine := pipeline.NewEngine(cfg, pipe, embedder, log)
	engine.Start(ctx)

	srv := api.NewServer(engine, tel, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		engine.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting leaselens", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
