// Package main provides the Opsight analysis server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/opsight-go/internal/config"
	"github.com/raphaelgruber/opsight-go/internal/correlate"
	"github.com/raphaelgruber/opsight-go/internal/db"
	"github.com/raphaelgruber/opsight-go/internal/llm"
	"github.com/raphaelgruber/opsight-go/internal/metrics"
	"github.com/raphaelgruber/opsight-go/internal/pipeline"
	"github.com/raphaelgruber/opsight-go/internal/server"
	"github.com/raphaelgruber/opsight-go/internal/service"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	port := os.Getenv("OPSIGHT_SERVER_PORT")
	if port == "" {
		port = "8491"
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	slog.Info("starting opsight-server", "port", port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	dbClient, err := db.NewClient(initCtx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		cancel()
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if err := dbClient.InitSchema(initCtx, cfg.EmbedDimension); err != nil {
		cancel()
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	if *wipeDB || os.Getenv("OPSIGHT_WIPE_DB") == "true" {
		if err := dbClient.WipeData(initCtx); err != nil {
			cancel()
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		slog.Warn("database wiped")
	}
	cancel()

	// LLM components
	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		slog.Error("failed to init embedder", "error", err)
		os.Exit(1)
	}
	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		slog.Error("failed to init llm", "error", err)
		os.Exit(1)
	}
	analyzer := llm.NewAnalyzer(model)

	correlator := correlate.New(dbClient, correlate.Config{
		Limit:         cfg.CorrelationLimit,
		MinSimilarity: cfg.MinSimilarity,
		Dimension:     cfg.EmbedDimension,
	})

	// Pipeline
	collector := metrics.NewCollector()
	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.FileFanout = cfg.FileFanout
	pipelineCfg.ExternalTimeout = cfg.ExternalTimeout
	pipelineCfg.RetryAttempts = cfg.RetryAttempts
	pipelineCfg.ArchiveLimits.MaxTotalBytes = cfg.MaxArchiveBytes
	pipelineCfg.ArchiveLimits.MaxFileCount = cfg.MaxArchiveFiles
	pipelineCfg.ArchiveLimits.MaxRatio = cfg.MaxArchiveRatio
	pipelineCfg.ArchiveLimits.MaxNestingDepth = cfg.MaxNestingDepth
	pipelineCfg.CacheSize = cfg.CacheSize
	pipelineCfg.CacheTTL = cfg.CacheTTL
	pipelineCfg.Metrics = collector

	orch := pipeline.New(embedder, analyzer, correlator, dbClient, service.LogTicketSink{}, pipelineCfg)

	// Job manager
	manager := service.NewManager(orch, dbClient, collector, cfg.Workers)
	if err := manager.Start(ctx); err != nil {
		slog.Error("failed to start job manager", "error", err)
		os.Exit(1)
	}
	defer manager.Stop()

	// HTTP API
	srv := server.New(":"+port, manager, logger)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
