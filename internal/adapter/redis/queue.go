// Package redis implements the job queue on Redis with visibility timeouts.
//
// Each queue uses five keys:
//
//	queue:<name>:visible   ZSET  job ID → unix ms when the job becomes readable
//	queue:<name>:jobs      HASH  job ID → JSON payload
//	queue:<name>:attempts  HASH  job ID → delivery count
//	queue:<name>:failures  HASH  job ID → last failure record
//	queue:<name>:dead      HASH  job ID → dead-lettered payload and failure
//
// A read moves each returned job's score forward by the visibility timeout,
// so an unacknowledged job is redelivered once the timeout elapses.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

// readScript claims up to ARGV[2] visible jobs atomically.
var readScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
  local payload = redis.call('HGET', KEYS[2], id)
  if payload then
    redis.call('ZADD', KEYS[1], ARGV[3], id)
    local attempt = redis.call('HINCRBY', KEYS[3], id, 1)
    table.insert(out, id)
    table.insert(out, attempt)
    table.insert(out, payload)
  else
    redis.call('ZREM', KEYS[1], id)
    redis.call('HDEL', KEYS[3], id)
  end
end
return out
`)

// NewClient parses redisURL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Queue is one named job queue.
type Queue struct {
	client            redis.UniversalClient
	name              string
	visibilityTimeout time.Duration
	maxAttempts       int
	logger            *slog.Logger
}

// NewQueue creates a Queue. Jobs failing maxAttempts times are dead-lettered.
func NewQueue(client redis.UniversalClient, name string, visibilityTimeout time.Duration, maxAttempts int, logger *slog.Logger) *Queue {
	return &Queue{
		client:            client,
		name:              name,
		visibilityTimeout: visibilityTimeout,
		maxAttempts:       maxAttempts,
		logger:            logger,
	}
}

func (q *Queue) key(suffix string) string {
	return "queue:" + q.name + ":" + suffix
}

// Failure is the record kept for a job's most recent failed attempt.
type Failure struct {
	Stage    domain.JobState `json:"stage"`
	Kind     string          `json:"kind"`
	Error    string          `json:"error"`
	Attempt  int             `json:"attempt"`
	FailedAt time.Time       `json:"failed_at"`
}

type deadLetter struct {
	Job     json.RawMessage `json:"job"`
	Failure *Failure        `json:"failure,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// Enqueue adds jobs, immediately visible. Re-enqueueing an ID replaces its
// payload and resets its attempt count.
func (q *Queue) Enqueue(ctx context.Context, jobs ...domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	now := float64(domain.Now().UnixMilli())
	pipe := q.client.TxPipeline()
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("serialize job %s: %w", job.ID, err)
		}
		pipe.HSet(ctx, q.key("jobs"), job.ID, data)
		pipe.HDel(ctx, q.key("attempts"), job.ID)
		pipe.ZAdd(ctx, q.key("visible"), redis.Z{Score: now, Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %d jobs: %w", len(jobs), err)
	}
	return nil
}

// Read claims up to n visible jobs and hides them for the visibility timeout.
// Payloads that no longer decode are dead-lettered and skipped, and their
// places are refilled from the visible set, so fewer than n jobs means the
// queue had no more visible work.
func (q *Queue) Read(ctx context.Context, n int) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, n)
	for len(jobs) < n {
		want := n - len(jobs)
		entries, err := q.claim(ctx, want)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			var job domain.Job
			if err := json.Unmarshal([]byte(e.payload), &job); err != nil {
				q.logger.Error("undecodable job payload, dead-lettering", "job_id", e.id, "error", err)
				if dlErr := q.deadLetter(ctx, e.id, []byte(e.payload), nil, "undecodable payload: "+err.Error()); dlErr != nil {
					return nil, dlErr
				}
				continue
			}
			job.ID = e.id
			job.Attempt = e.attempt
			jobs = append(jobs, job)
		}
		if len(entries) < want {
			break
		}
	}
	return jobs, nil
}

// claim runs the read script for up to n entries.
func (q *Queue) claim(ctx context.Context, n int) ([]readEntry, error) {
	now := domain.Now()
	res, err := readScript.Run(ctx, q.client,
		[]string{q.key("visible"), q.key("jobs"), q.key("attempts")},
		now.UnixMilli(), n, now.Add(q.visibilityTimeout).UnixMilli(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("read queue %s: %w", q.name, err)
	}

	entries, err := parseReadResult(res)
	if err != nil {
		return nil, fmt.Errorf("read queue %s: %w", q.name, err)
	}
	return entries, nil
}

// Acknowledge removes a completed job.
func (q *Queue) Acknowledge(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key("visible"), jobID)
	pipe.HDel(ctx, q.key("jobs"), jobID)
	pipe.HDel(ctx, q.key("attempts"), jobID)
	pipe.HDel(ctx, q.key("failures"), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("acknowledge %s: %w", jobID, err)
	}
	return nil
}

// MarkFailed records the failure. The job stays hidden until its visibility
// timeout elapses and is then redelivered, unless it has used all attempts,
// in which case it moves to the dead-letter hash. It reports whether the job
// was dead-lettered.
func (q *Queue) MarkFailed(ctx context.Context, job domain.Job, stage domain.JobState, cause error) (bool, error) {
	failure := &Failure{
		Stage:    stage,
		Kind:     domain.ErrorKind(cause),
		Error:    cause.Error(),
		Attempt:  job.Attempt,
		FailedAt: domain.Now(),
	}

	if job.Attempt >= q.maxAttempts {
		payload, err := q.client.HGet(ctx, q.key("jobs"), job.ID).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("load job %s: %w", job.ID, err)
		}
		if payload == nil {
			if payload, err = json.Marshal(job); err != nil {
				return false, fmt.Errorf("serialize job %s: %w", job.ID, err)
			}
		}
		return true, q.deadLetter(ctx, job.ID, payload, failure, "max attempts reached")
	}

	data, err := json.Marshal(failure)
	if err != nil {
		return false, fmt.Errorf("serialize failure: %w", err)
	}
	if err := q.client.HSet(ctx, q.key("failures"), job.ID, data).Err(); err != nil {
		return false, fmt.Errorf("mark %s failed: %w", job.ID, err)
	}
	return false, nil
}

func (q *Queue) deadLetter(ctx context.Context, jobID string, payload []byte, failure *Failure, reason string) error {
	raw := json.RawMessage(payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(payload))
		raw = quoted
	}
	data, err := json.Marshal(deadLetter{Job: raw, Failure: failure, Reason: reason})
	if err != nil {
		return fmt.Errorf("serialize dead letter: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.key("dead"), jobID, data)
	pipe.ZRem(ctx, q.key("visible"), jobID)
	pipe.HDel(ctx, q.key("jobs"), jobID)
	pipe.HDel(ctx, q.key("attempts"), jobID)
	pipe.HDel(ctx, q.key("failures"), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter %s: %w", jobID, err)
	}
	return nil
}

// Failures returns the recorded failure for each job that has one.
func (q *Queue) Failures(ctx context.Context) (map[string]Failure, error) {
	raw, err := q.client.HGetAll(ctx, q.key("failures")).Result()
	if err != nil {
		return nil, fmt.Errorf("load failures: %w", err)
	}
	out := make(map[string]Failure, len(raw))
	for id, v := range raw {
		var f Failure
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, fmt.Errorf("decode failure for %s: %w", id, err)
		}
		out[id] = f
	}
	return out, nil
}

// DeadLettered returns the IDs of dead-lettered jobs.
func (q *Queue) DeadLettered(ctx context.Context) ([]string, error) {
	ids, err := q.client.HKeys(ctx, q.key("dead")).Result()
	if err != nil {
		return nil, fmt.Errorf("load dead letters: %w", err)
	}
	return ids, nil
}

// Len returns the number of pending jobs, visible or in flight.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key("visible")).Result()
}

// CheckReadiness pings Redis.
func (q *Queue) CheckReadiness(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

type readEntry struct {
	id      string
	attempt int
	payload string
}

// parseReadResult decodes the flat [id, attempt, payload, ...] script reply.
func parseReadResult(res []any) ([]readEntry, error) {
	if len(res)%3 != 0 {
		return nil, fmt.Errorf("unexpected script reply length %d", len(res))
	}
	entries := make([]readEntry, 0, len(res)/3)
	for i := 0; i < len(res); i += 3 {
		id, ok := res[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected job id type %T", res[i])
		}
		attempt, err := toInt(res[i+1])
		if err != nil {
			return nil, err
		}
		payload, ok := res[i+2].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected payload type %T", res[i+2])
		}
		entries = append(entries, readEntry{id: id, attempt: attempt, payload: payload})
	}
	return entries, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("unexpected attempt type %T", v)
}
