package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/weskerllc/cronicorn/internal/metrics"
	"github.com/weskerllc/cronicorn/internal/repository"
)

// Sweeper recovers Runs abandoned by a worker that crashed or was killed
// mid-dispatch: a `running` Run older than staleAfter is marked failed.
// staleAfter is not compared with the endpoint's lease (which can run up to
// the 30-minute max execution time), so a dispatch still in flight after
// staleAfter is swept as well. The endpoint itself recovers on its own once
// locked_until passes —
// this only repairs the Run log so health summaries do not carry a
// permanently "in flight" entry.
type Sweeper struct {
	runs       repository.RunRepository
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewSweeper(runs repository.RunRepository, interval, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		runs:       runs,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.With("component", "sweeper"),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval, "stale_after", s.staleAfter)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper shut down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	cutoff := start.Add(-s.staleAfter)
	n, err := s.runs.SweepZombies(ctx, cutoff, 100)
	metrics.SweeperCycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("sweep zombies", "error", err)
		return
	}
	if n > 0 {
		metrics.SweeperRecoveredTotal.Add(float64(n))
		s.logger.Info("swept zombie runs", "count", n)
	}
}
