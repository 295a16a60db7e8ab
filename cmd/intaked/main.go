package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpAdapter "github.com/driftlake/intake/internal/adapter/http"
	"github.com/driftlake/intake/internal/adapter/source"
	"github.com/driftlake/intake/internal/adapter/sqlite"
	"github.com/driftlake/intake/internal/archive"
	"github.com/driftlake/intake/internal/config"
	"github.com/driftlake/intake/internal/download"
	"github.com/driftlake/intake/internal/inventory"
	"github.com/driftlake/intake/internal/manager"
	"github.com/driftlake/intake/internal/metrics"
	"github.com/driftlake/intake/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting intaked",
		"addr", cfg.Addr, "db", cfg.DBPath,
		"download_dir", cfg.DownloadDir, "extract_dir", cfg.ExtractDir)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("open job store failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := source.NewRegistry()
	registry.Register(source.NewFileFactory())
	registry.Register(source.NewHTTPFactory(cfg.ReadTimeout.Duration))
	if cfg.S3.Enabled() {
		registry.Register(source.NewS3Factory(source.S3Config{
			Region:       cfg.S3.Region,
			BaseEndpoint: cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
		}))
		logger.Info("s3 source enabled", "region", cfg.S3.Region, "endpoint", cfg.S3.Endpoint)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	limits := archive.Limits{
		MaxTotalSize: cfg.Security.MaxTotalSize,
		MaxEntries:   cfg.Security.MaxEntries,
		MaxEntrySize: cfg.Security.MaxEntrySize,
		MaxRatio:     cfg.Security.MaxRatio,
		MaxNameLen:   cfg.Security.MaxNameLen,
	}

	extractor := archive.NewExtractor(limits, logger)
	extractor.EntryObserver = m.ObserveEntrySize

	mgr := manager.New(manager.Config{
		Store:       store,
		Resolver:    registry,
		Downloader:  download.New(cfg.ChunkSize, cfg.PersistEvery, logger),
		Analyzer:    archive.NewAnalyzer(limits, logger),
		Extractor:   extractor,
		Inventory:   inventory.New(cfg.Inventory.MaxContentChars, cfg.Inventory.MaxContentBytes, logger),
		Metrics:     m,
		Logger:      logger,
		DownloadDir: cfg.DownloadDir,
		ExtractDir:  cfg.ExtractDir,
		JobTTL:      cfg.JobTTL.Duration,
	})

	// Requeue work interrupted by the previous shutdown.
	if recovered, err := mgr.Recover(context.Background()); err != nil {
		logger.Warn("recover interrupted jobs failed", "error", err)
	} else if recovered > 0 {
		logger.Info("recovered interrupted jobs", "count", recovered)
	}

	srv := httpAdapter.NewServer(mgr, cfg.Addr, reg, logger)
	w := worker.New(mgr, cfg.PollInterval.Duration, cfg.Concurrency, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	workerDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(workerDone)
	}()

	// Hourly sweep of expired job records.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := store.PurgeExpired(ctx); err != nil {
					logger.Warn("purge expired records failed", "error", err)
				} else if n > 0 {
					logger.Info("purged expired records", "count", n)
				}
			}
		}
	}()

	go func() {
		logger.Info("http server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not drain before timeout")
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}
