package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/advisory-alert-etl/internal/adapter/http"
	"github.com/couchcryptid/advisory-alert-etl/internal/pipeline"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockDrainer struct {
	running atomic.Bool
	mu      sync.Mutex
	calls   []int
	done    chan struct{}
}

func newMockDrainer() *mockDrainer {
	return &mockDrainer{done: make(chan struct{}, 1)}
}

func (m *mockDrainer) Run(_ context.Context, batchSize int) (pipeline.Summary, error) {
	m.mu.Lock()
	m.calls = append(m.calls, batchSize)
	m.mu.Unlock()
	m.done <- struct{}{}
	return pipeline.Summary{}, nil
}

func (m *mockDrainer) Running() bool { return m.running.Load() }

func newTestServer(readyErr error, d httpadapter.Drainer) *httpadapter.Server {
	return httpadapter.NewServer(context.Background(), ":0", &mockReadiness{err: readyErr}, d, 50, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil, newMockDrainer())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(nil, newMockDrainer())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(fmt.Errorf("redis: connection refused"), newMockDrainer())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "redis: connection refused", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil, newMockDrainer())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDrainAccepted(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantBatch int
	}{
		{"default batch", "", 50},
		{"explicit batch", "?batch_size=7", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newMockDrainer()
			srv := newTestServer(nil, d)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/drain"+tt.query, nil)

			srv.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusAccepted, rec.Code)
			select {
			case <-d.done:
			case <-time.After(2 * time.Second):
				t.Fatal("drain was not started")
			}
			d.mu.Lock()
			defer d.mu.Unlock()
			assert.Equal(t, []int{tt.wantBatch}, d.calls)
		})
	}
}

func TestDrainConflictWhenRunning(t *testing.T) {
	d := newMockDrainer()
	d.running.Store(true)
	srv := newTestServer(nil, d)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/drain", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, d.calls)
}

func TestDrainRejectsBadBatchSize(t *testing.T) {
	for _, v := range []string{"abc", "0", "-3", "1001"} {
		t.Run(v, func(t *testing.T) {
			srv := newTestServer(nil, newMockDrainer())
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/drain?batch_size="+v, nil)

			srv.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDrainRequiresPost(t *testing.T) {
	srv := newTestServer(nil, newMockDrainer())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/drain", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReadinessGroup(t *testing.T) {
	ok := &mockReadiness{}
	down := &mockReadiness{err: fmt.Errorf("postgres: timeout")}

	require.NoError(t, httpadapter.Readiness(ok, ok).CheckReadiness(context.Background()))
	require.EqualError(t, httpadapter.Readiness(ok, down).CheckReadiness(context.Background()), "postgres: timeout")
	require.NoError(t, httpadapter.Readiness().CheckReadiness(context.Background()))
}
