package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers drains on a cron schedule. A tick that arrives while a
// drain is still running is skipped.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers a drain of batchSize jobs on spec. Drains run under
// ctx, so cancelling it stops an in-flight drain.
func NewScheduler(ctx context.Context, spec string, d *Dispatcher, batchSize int, logger *slog.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(spec, func() {
		if _, err := d.Run(ctx, batchSize); err != nil && !errors.Is(err, ErrDrainRunning) && ctx.Err() == nil {
			logger.Error("scheduled drain failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid drain schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new drains and returns a context that is done once the
// running one, if any, has finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
