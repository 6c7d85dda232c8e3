// Package schedule runs periodic jobs on cron specs.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-pager/internal/pkg/ctxlog"
	"github.com/robfig/cron/v3"
)

// Job is one scheduled run. Errors are logged; they never stop the schedule.
type Job func(ctx context.Context) error

// Validate reports whether spec is a cron expression or descriptor such as
// "@every 1m".
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Run executes job on spec until ctx is cancelled. Overlapping runs are
// skipped. On return no run is in flight.
func Run(ctx context.Context, name, spec string, job Job) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	jobCtx := ctxlog.With(ctx, "job", name)

	_, err := c.AddFunc(spec, func() {
		if err := job(jobCtx); err != nil && ctx.Err() == nil {
			ctxlog.FromContext(jobCtx).Error("scheduled job failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	slog.Info("scheduled job started", "job", name, "schedule", spec)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("scheduled job stopped", "job", name)
	return nil
}
