package worker

import (
	"context"
	"time"

	"github.com/hackgods/opd-token-allocation/internal/logging"
)

// Sweeper is the part of the OPD service the no-show loop drives.
type Sweeper interface {
	SweepNoShows(ctx context.Context, now time.Time) (int, error)
}

// NoShowWorker periodically marks overdue SCHEDULED tokens as no-shows.
type NoShowWorker struct {
	svc      Sweeper
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

func NewNoShowWorker(svc Sweeper, interval time.Duration, logger *logging.Logger) *NoShowWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &NoShowWorker{
		svc:      svc,
		interval: interval,
		timeout:  20 * time.Second,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once at startup and then on every tick until ctx is done.
func (w *NoShowWorker) Run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns how many tokens it marked.
func (w *NoShowWorker) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	n, err := w.svc.SweepNoShows(runCtx, w.now())
	if err != nil {
		w.logger.Error("no-show sweep failed", "error", err, "marked", n)
		return n
	}
	w.logger.Info("no-show sweep complete", "marked", n, "duration_ms", time.Since(start).Milliseconds())
	return n
}
