package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/opd-token-allocation/internal/app"
	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/logging"
	"github.com/hackgods/opd-token-allocation/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("component", "noshow-worker")

	// A separate process cannot see the api-server's memory store.
	if cfg.StorageBackend != "postgres" {
		logger.Error("noshow-worker requires STORAGE_BACKEND=postgres")
		os.Exit(1)
	}
	logger.Info("noshow-worker starting up",
		"env", cfg.Env, "interval", cfg.WorkerInterval.String(), "no_show_timeout", cfg.NoShowTimeout.String())

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(rootCtx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	worker.NewNoShowWorker(rt.Service, cfg.WorkerInterval, logger).Run(rootCtx)
}
