package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Worker drives a Tick on a fixed polling interval until its context is
// canceled. One Worker per process is typical; running several only helps
// once claim contention (not dispatch latency) is the bottleneck, since a
// single Tick already fans out across all of a batch's endpoints.
type Worker struct {
	id           string
	tick         *Tick
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewWorker(tick *Tick, pollInterval time.Duration, logger *slog.Logger) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		id:           fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		tick:         tick,
		pollInterval: pollInterval,
		logger:       logger.With("component", "worker", "worker_id", fmt.Sprintf("%s-%d", hostname, os.Getpid())),
	}
}

// Start runs the poll loop. Intended to be launched in its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "poll_interval", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shut down")
			return
		case <-ticker.C:
			claimed, err := w.tick.Run(ctx)
			if err != nil {
				w.logger.Error("tick failed", "error", err)
				continue
			}
			if claimed > 0 {
				w.logger.Info("tick complete", "claimed", claimed)
			}
		}
	}
}
