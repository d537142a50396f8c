package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/Spok95/school-roster/internal/observability"
)

type Job func(ctx context.Context) error

type Runner struct {
	ctx context.Context
}

func New(ctx context.Context) *Runner { return &Runner{ctx: ctx} }

// Every запускает fn по тикеру до отмены контекста; паника в задаче не роняет цикл.
func (r *Runner) Every(interval time.Duration, name string, fn Job) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-t.C:
				_ = Run(r.ctx, name, fn)
			}
		}
	}()
}

// Run — один прогон с метриками; используется и тикером, и командой `rosterd audit`.
func Run(ctx context.Context, name string, fn Job) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in job %s: %v", name, rec)
		}
		if err != nil {
			jobErrors.WithLabelValues(name).Inc()
			observability.CaptureCtx(ctx, err)
		}
		jobRuns.WithLabelValues(name).Inc()
		jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	return fn(ctx)
}
