// Package worker runs the periodic maintenance jobs.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic task. Run errors are logged and the job keeps its
// schedule.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Runner struct {
	jobs   []Job
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger, jobs ...Job) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{jobs: jobs, logger: logger}
}

// Run starts every job immediately and then on its interval, blocking until
// ctx is canceled and all in-flight runs have returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range r.jobs {
		if job.Interval <= 0 || job.Run == nil {
			r.logger.Warn("skipping job without schedule", "job", job.Name)
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			r.loop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	r.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job stopped", "job", job.Name)
			return
		case <-ticker.C:
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("job failed", "job", job.Name, "error", err, "duration", time.Since(start))
		return
	}
	r.logger.Debug("job finished", "job", job.Name, "duration", time.Since(start))
}
