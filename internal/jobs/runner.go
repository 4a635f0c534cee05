package jobs

import (
	"context"
	"log"
	"time"

	"github.com/povchingiz/google-meet-recording/internal/metrics"
)

// Maintainer is the part of the orchestrator the housekeeping jobs drive.
type Maintainer interface {
	ReapOrphans(ctx context.Context, olderThan time.Duration) (int, error)
	PurgeExpired(ctx context.Context, retention time.Duration) (int, error)
}

type Options struct {
	ReapInterval  time.Duration
	OrphanAfter   time.Duration
	PurgeInterval time.Duration
	Retention     time.Duration
}

type Runner struct {
	target Maintainer
	opts   Options
}

func NewRunner(target Maintainer, opts Options) *Runner {
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Minute
	}
	if opts.OrphanAfter <= 0 {
		opts.OrphanAfter = 10 * time.Minute
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = 15 * time.Minute
	}
	return &Runner{target: target, opts: opts}
}

func (r *Runner) Start(ctx context.Context) {
	go r.runEvery(ctx, "orphan_reaper", r.opts.ReapInterval, r.reapOrphans)
	if r.opts.Retention > 0 {
		go r.runEvery(ctx, "session_retention", r.opts.PurgeInterval, r.purgeExpired)
	}
}

func (r *Runner) reapOrphans(ctx context.Context) error {
	n, err := r.target.ReapOrphans(ctx, r.opts.OrphanAfter)
	if n > 0 {
		log.Printf("event=orphans_reaped count=%d", n)
	}
	return err
}

func (r *Runner) purgeExpired(ctx context.Context) error {
	n, err := r.target.PurgeExpired(ctx, r.opts.Retention)
	if n > 0 {
		log.Printf("event=sessions_purged count=%d retention=%s", n, r.opts.Retention)
	}
	return err
}

func (r *Runner) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	r.runOnce(ctx, name, fn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, name, fn)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	durMs := time.Since(start).Milliseconds()

	status := "ok"
	if err != nil {
		status = "error"
		log.Printf("metric=job_run name=%s status=error duration_ms=%d err=%q", name, durMs, err.Error())
	} else {
		log.Printf("metric=job_run name=%s status=ok duration_ms=%d", name, durMs)
	}
	metrics.Default().IncCounter("meetrec_job_runs_total", map[string]string{"job": name, "status": status})
	metrics.Default().ObserveHistogram("meetrec_job_duration_ms", float64(durMs), map[string]string{"job": name})
}
