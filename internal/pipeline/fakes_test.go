package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

// --- fakes ---

type fakeExtractor struct {
	err    error
	onCall func() // runs before the result is returned
}

func (f *fakeExtractor) Extract(_ context.Context, job domain.Job) (domain.ExtractedContent, error) {
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return domain.ExtractedContent{}, f.err
	}
	return domain.ExtractedContent{
		JobID:            job.ID,
		Markdown:         domain.PageMarker(1) + "Heavy rain expected in " + job.Title + "\n\n",
		ExtractionMethod: domain.MethodVision,
		Confidence:       1,
		Pages:            1,
	}, nil
}

// fakeStructurer returns errs in order, then alert.
type fakeStructurer struct {
	alert domain.StructuredAlert
	errs  []error
	calls atomic.Int32
}

func (f *fakeStructurer) Structure(_ context.Context, _ string) (domain.StructuredAlert, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) && f.errs[n] != nil {
		return domain.StructuredAlert{}, f.errs[n]
	}
	return f.alert, nil
}

// fakeResolver looks names up in a fixed table. A name listed in failOn
// simulates a backend outage; panicOn panics.
type fakeResolver struct {
	places  map[string]domain.PlaceRecord
	failOn  string
	panicOn string
}

func (f *fakeResolver) Resolve(_ context.Context, names []string) ([]domain.PlaceRecord, error) {
	var out []domain.PlaceRecord
	for _, n := range names {
		if n == f.failOn {
			return nil, fmt.Errorf("%w: connection refused", domain.ErrResolverBackend)
		}
		if n == f.panicOn {
			panic("resolver exploded")
		}
		if p, ok := f.places[n]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeStore upserts by document ID like the real store.
type fakeStore struct {
	mu     sync.Mutex
	rows   map[string]domain.AlertResult
	writes int
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]domain.AlertResult)}
}

func (f *fakeStore) SaveResult(_ context.Context, res domain.AlertResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes++
	f.rows[res.Alert.DocumentID] = res
	return nil
}

func (f *fakeStore) get(documentID string) (domain.AlertResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[documentID]
	return r, ok
}

type failRecord struct {
	stage domain.JobState
	err   error
}

// fakeQueue hands out pending jobs in order and records how each was settled.
type fakeQueue struct {
	mu          sync.Mutex
	pending     []domain.Job
	acks        map[string]int
	fails       map[string][]failRecord
	reads       int
	readErrs    []error
	ackErr      error
	maxAttempts int
}

func newFakeQueue(jobs ...domain.Job) *fakeQueue {
	return &fakeQueue{
		pending:     jobs,
		acks:        make(map[string]int),
		fails:       make(map[string][]failRecord),
		maxAttempts: 3,
	}
}

func (q *fakeQueue) Read(_ context.Context, n int) ([]domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reads++
	if len(q.readErrs) > 0 {
		err := q.readErrs[0]
		q.readErrs = q.readErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if n > len(q.pending) {
		n = len(q.pending)
	}
	out := q.pending[:n]
	q.pending = q.pending[n:]
	return out, nil
}

func (q *fakeQueue) Acknowledge(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ackErr != nil {
		return q.ackErr
	}
	q.acks[jobID]++
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, job domain.Job, stage domain.JobState, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fails[job.ID] = append(q.fails[job.ID], failRecord{stage: stage, err: cause})
	return job.Attempt >= q.maxAttempts, nil
}

// settled returns how many times jobID was acknowledged and failed.
func (q *fakeQueue) settled(jobID string) (acks, fails int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acks[jobID], len(q.fails[jobID])
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Alert
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, alert domain.Alert, _ []domain.ResolvedArea) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, alert)
	return nil
}

// --- fixtures ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlaces() map[string]domain.PlaceRecord {
	return map[string]domain.PlaceRecord{
		"Lahore":  {ID: "PK-PB-LHR", CanonicalName: "Lahore", Level: domain.LevelDistrict, ParentID: "PK-PB"},
		"Kasur":   {ID: "PK-PB-KSR", CanonicalName: "Kasur", Level: domain.LevelDistrict, ParentID: "PK-PB"},
		"Karachi": {ID: "PK-SD-KHI", CanonicalName: "Karachi", Level: domain.LevelDistrict, ParentID: "PK-SD"},
	}
}

func testAlert(names ...string) domain.StructuredAlert {
	from := time.Date(2026, time.July, 14, 0, 0, 0, 0, time.UTC)
	return domain.StructuredAlert{
		Category:      domain.CategoryMet,
		Event:         "Heavy Rain",
		Urgency:       domain.UrgencyExpected,
		Severity:      domain.SeveritySevere,
		Description:   "Monsoon rains with urban flooding.",
		Instruction:   "Avoid low-lying areas.",
		EffectiveFrom: &from,
		Areas:         []domain.AreaMention{{PlaceNames: names}},
	}
}

func testJob(id string) domain.Job {
	return domain.Job{
		ID:         id,
		DocumentID: "doc-" + id,
		SourceURL:  "https://ndma.gov.pk/advisories/" + id + ".pdf",
		FileType:   domain.FileTypePDF,
		Title:      id,
		Source:     domain.SourceNDMA,
		Attempt:    1,
	}
}

type harness struct {
	extractor  *fakeExtractor
	structurer *fakeStructurer
	resolver   *fakeResolver
	store      *fakeStore
	queue      *fakeQueue
	publisher  *fakePublisher
	metrics    *observability.Metrics
}

func newHarness(jobs ...domain.Job) *harness {
	return &harness{
		extractor:  &fakeExtractor{},
		structurer: &fakeStructurer{alert: testAlert("Lahore", "Kasur")},
		resolver:   &fakeResolver{places: testPlaces()},
		store:      newFakeStore(),
		queue:      newFakeQueue(jobs...),
		publisher:  &fakePublisher{},
		metrics:    observability.NewMetricsForTesting(),
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return NewOrchestrator(Deps{
		Extractor:  h.extractor,
		Structurer: h.structurer,
		Resolver:   h.resolver,
		Store:      h.store,
		Queue:      h.queue,
		Publisher:  h.publisher,
	}, discardLogger(), h.metrics)
}

func (h *harness) dispatcher() *Dispatcher {
	d := NewDispatcher(h.queue, h.orchestrator(), discardLogger(), h.metrics)
	d.backoff = time.Millisecond
	return d
}

var errBoom = errors.New("boom")
