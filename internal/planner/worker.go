package planner

import (
	"context"
	"log/slog"
	"time"
)

// Worker polls for endpoints due for analysis on its own cadence,
// independent of the dispatch scheduler's poll loop.
type Worker struct {
	planner      *Planner
	batchSize    int
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewWorker builds a planner Worker. batchSize and pollInterval default to
// 10 and one minute respectively when left zero.
func NewWorker(p *Planner, batchSize int, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Worker{planner: p, batchSize: batchSize, pollInterval: pollInterval, logger: logger}
}

// Start runs the poll loop until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			claimed, err := w.planner.RunBatch(ctx, w.batchSize)
			if err != nil {
				w.logger.ErrorContext(ctx, "planner batch failed", "error", err)
				continue
			}
			if claimed > 0 {
				w.logger.InfoContext(ctx, "planner batch analyzed", "count", claimed)
			}
		}
	}
}
