package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

// ErrDrainRunning is returned when a drain is requested while one is active.
var ErrDrainRunning = errors.New("drain already running")

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
	maxReadRetries = 5
)

// Processor settles one job.
type Processor interface {
	Process(ctx context.Context, job domain.Job) Outcome
}

// Summary counts what one drain did.
type Summary struct {
	Batches      int
	Jobs         int
	Acknowledged int
	Failed       int
	DeadLettered int
}

// Dispatcher reads jobs in batches and runs them concurrently until the
// queue is drained. Only one drain runs at a time.
type Dispatcher struct {
	queue     Queue
	processor Processor
	logger    *slog.Logger
	metrics   *observability.Metrics
	running   atomic.Bool
	backoff   time.Duration // first read retry delay
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(queue Queue, processor Processor, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		processor: processor,
		logger:    logger,
		metrics:   metrics,
		backoff:   initialBackoff,
	}
}

// Running reports whether a drain is in progress.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Run reads up to batchSize jobs at a time, processes each batch with at most
// batchSize jobs in flight, and returns once a read yields fewer jobs than
// requested. Job failures never stop the drain; only a persistent queue read
// error or cancellation does.
func (d *Dispatcher) Run(ctx context.Context, batchSize int) (Summary, error) {
	if batchSize <= 0 {
		return Summary{}, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if !d.running.CompareAndSwap(false, true) {
		return Summary{}, ErrDrainRunning
	}
	defer d.running.Store(false)

	d.metrics.DrainRunning.Set(1)
	defer d.metrics.DrainRunning.Set(0)

	start := domain.Now()
	d.logger.Info("drain started", "batch_size", batchSize)

	var sum Summary
	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info("drain stopping", "reason", err)
			return sum, err
		}

		jobs, err := d.read(ctx, batchSize)
		if err != nil {
			d.logger.Error("drain aborted", "error", err, "jobs", sum.Jobs)
			return sum, err
		}
		d.metrics.BatchSize.Observe(float64(len(jobs)))

		if len(jobs) > 0 {
			sum.Batches++
			d.runBatch(ctx, jobs, batchSize, &sum)
		}

		if len(jobs) < batchSize {
			break
		}
	}

	d.metrics.DrainDuration.Observe(domain.Now().Sub(start).Seconds())
	d.logger.Info("drain complete",
		"batches", sum.Batches,
		"jobs", sum.Jobs,
		"acknowledged", sum.Acknowledged,
		"failed", sum.Failed,
		"dead_lettered", sum.DeadLettered,
		"duration", domain.Now().Sub(start),
	)
	return sum, nil
}

// read retries transient queue errors with exponential backoff.
func (d *Dispatcher) read(ctx context.Context, n int) ([]domain.Job, error) {
	backoff := d.backoff
	var err error
	for attempt := 1; attempt <= maxReadRetries; attempt++ {
		var jobs []domain.Job
		jobs, err = d.queue.Read(ctx, n)
		if err == nil {
			return jobs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("queue read failed", "error", err, "attempt", attempt)
		if attempt == maxReadRetries || !retry.SleepWithContext(ctx, backoff) {
			break
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("read queue after %d attempts: %w", maxReadRetries, err)
}

// runBatch processes jobs concurrently and waits for all of them.
func (d *Dispatcher) runBatch(ctx context.Context, jobs []domain.Job, limit int, sum *Summary) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(limit)

	for _, job := range jobs {
		g.Go(func() error {
			out, ok := d.safeProcess(ctx, job)
			mu.Lock()
			defer mu.Unlock()
			sum.Jobs++
			switch {
			case !ok:
				sum.Failed++
			case out.State == domain.StateAcknowledged:
				sum.Acknowledged++
			case out.DeadLettered:
				sum.DeadLettered++
			default:
				sum.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
}

// safeProcess isolates a panic that escapes the processor. The job is left
// for redelivery.
func (d *Dispatcher) safeProcess(ctx context.Context, job domain.Job) (out Outcome, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("job panicked outside the state machine", "job_id", job.ID, "panic", rec)
			ok = false
		}
	}()
	return d.processor.Process(ctx, job), true
}
