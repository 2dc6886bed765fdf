//go:build integration

package integration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

func pdfJob(id string) domain.Job {
	return domain.Job{
		ID:         id,
		DocumentID: "doc-" + id,
		SourceURL:  "https://ndma.gov.pk/advisories/" + id + ".pdf",
		FileType:   domain.FileTypePDF,
		Source:     domain.SourceNDMA,
	}
}

func TestQueue_ReadHidesUntilVisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	client := startRedis(ctx, t)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	q := newQueue(client, "visibility", 30*time.Second)
	require.NoError(t, q.Enqueue(ctx, pdfJob("a"), pdfJob("b"), pdfJob("c")))

	first, err := q.Read(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, j := range first {
		assert.Equal(t, 1, j.Attempt)
	}

	rest, err := q.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1, "claimed jobs stay hidden")

	none, err := q.Read(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	clock.Advance(31 * time.Second)
	again, err := q.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 3, "unacknowledged jobs are redelivered")
	for _, j := range again {
		assert.Equal(t, 2, j.Attempt)
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestQueue_AcknowledgeRemovesJob(t *testing.T) {
	ctx := context.Background()
	client := startRedis(ctx, t)

	clock := clockwork.NewFakeClock()
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	q := newQueue(client, "ack", time.Second)
	require.NoError(t, q.Enqueue(ctx, pdfJob("a")))

	jobs, err := q.Read(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, q.Acknowledge(ctx, jobs[0].ID))

	clock.Advance(time.Minute)
	jobs, err = q.Read(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_MarkFailedThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	client := startRedis(ctx, t)

	clock := clockwork.NewFakeClock()
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	q := newQueue(client, "failures", time.Second)
	require.NoError(t, q.Enqueue(ctx, pdfJob("a")))

	cause := &domain.StageError{Stage: domain.StateFetching, Err: errors.Join(domain.ErrFetch, errors.New("status 503"))}
	for attempt := 1; attempt <= 3; attempt++ {
		jobs, err := q.Read(ctx, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1, "attempt %d", attempt)
		require.Equal(t, attempt, jobs[0].Attempt)

		dead, err := q.MarkFailed(ctx, jobs[0], domain.StateFetching, cause)
		require.NoError(t, err)
		assert.Equal(t, attempt == 3, dead, "attempt %d", attempt)

		if !dead {
			failures, err := q.Failures(ctx)
			require.NoError(t, err)
			require.Contains(t, failures, "a")
			assert.Equal(t, domain.StateFetching, failures["a"].Stage)
			assert.Equal(t, attempt, failures["a"].Attempt)
		}
		clock.Advance(2 * time.Second)
	}

	deadIDs, err := q.DeadLettered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, deadIDs)

	jobs, err := q.Read(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestQueue_UndecodablePayloadIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	client := startRedis(ctx, t)

	q := newQueue(client, "garbage", time.Minute)
	require.NoError(t, q.Enqueue(ctx, pdfJob("good-1"), pdfJob("good-2")))
	require.NoError(t, client.HSet(ctx, "queue:garbage:jobs", "bad", "{not json").Err())
	require.NoError(t, client.ZAdd(ctx, "queue:garbage:visible", goredisZ(0, "bad")).Err())

	// The bad entry sorts first; its slot is refilled so a full batch is
	// still returned while visible jobs remain.
	jobs, err := q.Read(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.ElementsMatch(t, []string{"good-1", "good-2"}, []string{jobs[0].ID, jobs[1].ID})

	deadIDs, err := q.DeadLettered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, deadIDs)

	jobs, err = q.Read(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestQueue_CheckReadiness(t *testing.T) {
	ctx := context.Background()
	client := startRedis(ctx, t)
	require.NoError(t, newQueue(client, "ready", time.Second).CheckReadiness(ctx))
}
