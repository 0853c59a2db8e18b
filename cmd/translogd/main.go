package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	tlhttp "translog/internal/http"
	"translog/pkg/listener"
	"translog/pkg/metrics"
	"translog/pkg/translog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	collector := metrics.NewInMemory()

	log, err := translog.Open(cfg.Translog, collector)
	if err != nil {
		slog.Error("failed to open translog", "dir", cfg.Translog.Dir, "error", err)
		os.Exit(1)
	}

	// Background durability and retention jobs, driven by tickers.
	syncTicker := time.NewTicker(cfg.Translog.SyncInterval)
	trimTicker := time.NewTicker(cfg.Translog.Retention.TrimInterval)

	syncJob := listener.New(syncTicker.C, func(time.Time) error {
		return log.Sync()
	})
	trimJob := listener.New(trimTicker.C, func(time.Time) error {
		return log.TrimUnreferencedReaders()
	})
	syncJob.Start(ctx)
	trimJob.Start(ctx)

	server := tlhttp.NewServer(log, collector, strconv.Itoa(cfg.Server.Port))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()

		syncTicker.Stop()
		trimTicker.Stop()
		syncJob.Stop()
		trimJob.Stop()

		if err := server.Stop(); err != nil {
			slog.Error("failed to stop HTTP server", "error", err)
		}
		return log.Close()
	})

	if err := g.Wait(); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("translogd stopped")
}
