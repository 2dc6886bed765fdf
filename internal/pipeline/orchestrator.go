// Package pipeline runs queued documents through extraction, structuring,
// place resolution and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

// DocumentExtractor turns a job's source document into page-tagged markdown.
type DocumentExtractor interface {
	Extract(ctx context.Context, job domain.Job) (domain.ExtractedContent, error)
}

// Structurer turns markdown into a validated alert.
type Structurer interface {
	Structure(ctx context.Context, markdown string) (domain.StructuredAlert, error)
}

// PlaceResolver maps free-text place names to reference places.
type PlaceResolver interface {
	Resolve(ctx context.Context, names []string) ([]domain.PlaceRecord, error)
}

// Store persists one job's results as a single unit.
type Store interface {
	SaveResult(ctx context.Context, res domain.AlertResult) error
}

// Queue is the job source.
type Queue interface {
	Read(ctx context.Context, n int) ([]domain.Job, error)
	Acknowledge(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, job domain.Job, stage domain.JobState, cause error) (bool, error)
}

// Publisher announces persisted alerts downstream.
type Publisher interface {
	Publish(ctx context.Context, alert domain.Alert, areas []domain.ResolvedArea) error
}

// Outcome is the terminal result of one job.
type Outcome struct {
	JobID        string
	State        domain.JobState // ACKNOWLEDGED or FAILED
	Err          error           // *domain.StageError when State is FAILED
	DeadLettered bool
}

// Orchestrator drives a single job through the state machine and settles it
// with the queue exactly once.
type Orchestrator struct {
	extractor  DocumentExtractor
	structurer Structurer
	resolver   PlaceResolver
	store      Store
	queue      Queue
	publisher  Publisher
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Deps are the collaborators of an Orchestrator. Publisher may be nil.
type Deps struct {
	Extractor  DocumentExtractor
	Structurer Structurer
	Resolver   PlaceResolver
	Store      Store
	Queue      Queue
	Publisher  Publisher
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(d Deps, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		extractor:  d.Extractor,
		structurer: d.Structurer,
		resolver:   d.Resolver,
		store:      d.Store,
		queue:      d.Queue,
		publisher:  d.Publisher,
		logger:     logger,
		metrics:    metrics,
	}
}

// run tracks one job's position in the state machine.
type run struct {
	job     domain.Job
	state   domain.JobState
	entered time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

// advance moves to the next state and records time spent in the current one.
func (r *run) advance(to domain.JobState) {
	if !domain.IsTransitionAllowed(r.state, to) {
		panic(fmt.Sprintf("illegal job transition %s -> %s", r.state, to))
	}
	r.metrics.StageDuration.WithLabelValues(string(r.state)).Observe(domain.Now().Sub(r.entered).Seconds())
	r.logger.Debug("job stage complete", "stage", string(r.state), "next", string(to))
	r.state = to
	r.entered = domain.Now()
}

// Process runs job to a terminal state. A panic inside any stage fails the
// job at the stage it was in.
func (o *Orchestrator) Process(ctx context.Context, job domain.Job) (out Outcome) {
	r := &run{
		job:     job,
		state:   domain.StateFetching,
		entered: domain.Now(),
		logger:  o.logger.With("job_id", job.ID, "document_id", job.DocumentID, "attempt", job.Attempt),
		metrics: o.metrics,
	}

	defer func() {
		if rec := recover(); rec != nil {
			if r.state.IsTerminal() {
				r.logger.Error("panic after job settled", "panic", rec)
				return
			}
			out = o.fail(ctx, r, fmt.Errorf("panic: %v", rec))
		}
	}()

	res, err := o.execute(ctx, r)
	if err != nil {
		return o.fail(ctx, r, err)
	}
	return o.acknowledge(ctx, r, res)
}

// execute runs every stage up to and including persistence.
func (o *Orchestrator) execute(ctx context.Context, r *run) (domain.AlertResult, error) {
	content, err := o.extractor.Extract(ctx, r.job)
	if err != nil {
		if !errors.Is(err, domain.ErrFetch) {
			r.advance(domain.StateExtracting)
		}
		return domain.AlertResult{}, err
	}
	r.advance(domain.StateExtracting)
	r.logger.Info("document extracted",
		"method", string(content.ExtractionMethod),
		"pages", content.Pages,
		"confidence", content.Confidence,
	)

	r.advance(domain.StateStructuring)
	structured, err := o.structure(ctx, r, content.Markdown)
	if err != nil {
		return domain.AlertResult{}, err
	}

	r.advance(domain.StateResolving)
	alert := domain.NewAlert(r.job.DocumentID, structured)
	areas, err := o.resolveAreas(ctx, alert, structured.Areas)
	if err != nil {
		return domain.AlertResult{}, err
	}
	r.logger.Info("places resolved", "mentions", len(structured.Areas), "areas", len(areas))

	r.advance(domain.StatePersisting)
	res := domain.AlertResult{
		Alert:      alert,
		Areas:      areas,
		Structured: structured,
		Content:    content,
	}
	if err := o.store.SaveResult(ctx, res); err != nil {
		return domain.AlertResult{}, err
	}
	return res, nil
}

// structure calls the structured extractor, retrying once on a schema error
// with the same input.
func (o *Orchestrator) structure(ctx context.Context, r *run, markdown string) (domain.StructuredAlert, error) {
	alert, err := o.structurer.Structure(ctx, markdown)
	if err == nil || !errors.Is(err, domain.ErrSchema) {
		return alert, err
	}
	r.logger.Warn("structured output rejected, retrying once", "error", err)
	o.metrics.SchemaRetries.Inc()
	return o.structurer.Structure(ctx, markdown)
}

// resolveAreas fans every mention out into area rows. A place named by more
// than one mention keeps the overrides of the first.
func (o *Orchestrator) resolveAreas(ctx context.Context, alert domain.Alert, mentions []domain.AreaMention) ([]domain.ResolvedArea, error) {
	var areas []domain.ResolvedArea
	seen := make(map[string]struct{})
	for _, m := range mentions {
		places, err := o.resolver.Resolve(ctx, m.PlaceNames)
		if err != nil {
			return nil, err
		}
		for _, area := range domain.ResolvedAreas(alert.ID, m, places) {
			if _, dup := seen[area.PlaceID]; dup {
				continue
			}
			seen[area.PlaceID] = struct{}{}
			areas = append(areas, area)
		}
	}
	return areas, nil
}

func (o *Orchestrator) acknowledge(ctx context.Context, r *run, res domain.AlertResult) Outcome {
	r.advance(domain.StateAcknowledged)
	if err := o.queue.Acknowledge(ctx, r.job.ID); err != nil {
		// The data is committed; redelivery will rewrite the same rows.
		r.logger.Error("acknowledge failed, job will be redelivered", "error", err)
		o.metrics.JobsProcessed.WithLabelValues("ack_error").Inc()
	} else {
		o.metrics.JobsProcessed.WithLabelValues("acknowledged").Inc()
		r.logger.Info("job acknowledged", "alert_id", res.Alert.ID.String(), "areas", len(res.Areas))
	}
	o.publish(ctx, r, res)
	return Outcome{JobID: r.job.ID, State: domain.StateAcknowledged}
}

func (o *Orchestrator) publish(ctx context.Context, r *run, res domain.AlertResult) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, res.Alert, res.Areas); err != nil {
		o.metrics.AlertsPublished.WithLabelValues("error").Inc()
		r.logger.Warn("publish alert failed", "error", err)
		return
	}
	o.metrics.AlertsPublished.WithLabelValues("success").Inc()
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) Outcome {
	stage := r.state
	kind := domain.ErrorKind(err)
	stageErr := &domain.StageError{Stage: stage, Err: err}
	r.state = domain.StateFailed

	o.metrics.StageFailures.WithLabelValues(string(stage), kind).Inc()
	r.logger.Error("job failed", "stage", string(stage), "kind", kind, "error", err)

	dead, markErr := o.queue.MarkFailed(ctx, r.job, stage, err)
	switch {
	case markErr != nil:
		r.logger.Error("mark failed did not persist, job will be redelivered", "error", markErr)
		o.metrics.JobsProcessed.WithLabelValues("failed").Inc()
	case dead:
		r.logger.Warn("job dead-lettered")
		o.metrics.JobsProcessed.WithLabelValues("dead_lettered").Inc()
	default:
		o.metrics.JobsProcessed.WithLabelValues("failed").Inc()
	}
	return Outcome{JobID: r.job.ID, State: domain.StateFailed, Err: stageErr, DeadLettered: dead}
}
