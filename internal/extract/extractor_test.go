package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

// --- mocks ---

type mockFetcher struct {
	data []byte
	err  error
	urls []string
}

func (m *mockFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	m.urls = append(m.urls, url)
	return m.data, m.err
}

type mockRasterizer struct {
	pages []domain.Image
	err   error
}

func (m *mockRasterizer) Rasterize(_ context.Context, _ []byte) ([]domain.Image, error) {
	return m.pages, m.err
}

// pageModel answers each page with "text for <image data>", failing any
// page whose data is listed in fail.
type pageModel struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
	last  []domain.Message
}

func (m *pageModel) Call(_ context.Context, msgs []domain.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = msgs
	img := msgs[len(msgs)-1].Images[0]
	if m.fail[string(img.Data)] {
		return "", errors.New("model overloaded")
	}
	return "text for " + string(img.Data), nil
}

func pages(n int) []domain.Image {
	out := make([]domain.Image, n)
	for i := range out {
		out[i] = domain.Image{MIMEType: "image/png", Data: []byte("page-" + string(rune('1'+i)))}
	}
	return out
}

func newTestExtractor(f Fetcher, r Rasterizer, m domain.LanguageModel) *Extractor {
	return New(f, r, m, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

// --- Extract ---

func TestExtract_PDFPagesInOrder(t *testing.T) {
	model := &pageModel{}
	e := newTestExtractor(&mockFetcher{data: []byte("%PDF")}, &mockRasterizer{pages: pages(3)}, model)

	got, err := e.Extract(context.Background(), domain.Job{ID: "j1", SourceURL: "https://ndma.gov.pk/a.pdf", FileType: domain.FileTypePDF})
	require.NoError(t, err)

	want := "<!-- Page 1 -->\ntext for page-1\n\n" +
		"<!-- Page 2 -->\ntext for page-2\n\n" +
		"<!-- Page 3 -->\ntext for page-3\n\n"
	assert.Equal(t, want, got.Markdown)
	assert.Equal(t, domain.MethodVision, got.ExtractionMethod)
	assert.Equal(t, "j1", got.JobID)
	assert.Equal(t, 3, got.Pages)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
	assert.Equal(t, 3, model.calls)
}

func TestExtract_FailedPageLeavesEmptyFragment(t *testing.T) {
	model := &pageModel{fail: map[string]bool{"page-2": true}}
	e := newTestExtractor(&mockFetcher{data: []byte("%PDF")}, &mockRasterizer{pages: pages(3)}, model)

	got, err := e.Extract(context.Background(), domain.Job{ID: "j1", FileType: domain.FileTypePDF})
	require.NoError(t, err)

	want := "<!-- Page 1 -->\ntext for page-1\n\n" +
		"<!-- Page 2 -->\n\n\n" +
		"<!-- Page 3 -->\ntext for page-3\n\n"
	assert.Equal(t, want, got.Markdown)
	assert.InDelta(t, 2.0/3.0, got.Confidence, 1e-9)

	p1 := strings.Index(got.Markdown, "<!-- Page 1 -->")
	p2 := strings.Index(got.Markdown, "<!-- Page 2 -->")
	p3 := strings.Index(got.Markdown, "<!-- Page 3 -->")
	assert.True(t, p1 < p2 && p2 < p3)
}

func TestExtract_AllPagesFail(t *testing.T) {
	model := &pageModel{fail: map[string]bool{"page-1": true, "page-2": true}}
	e := newTestExtractor(&mockFetcher{data: []byte("%PDF")}, &mockRasterizer{pages: pages(2)}, model)

	_, err := e.Extract(context.Background(), domain.Job{ID: "j1", FileType: domain.FileTypePDF})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExtraction)
}

func TestExtract_ImageIsSinglePage(t *testing.T) {
	model := &pageModel{}
	e := newTestExtractor(&mockFetcher{data: []byte("jpegbytes")}, &mockRasterizer{err: errors.New("must not be called")}, model)

	got, err := e.Extract(context.Background(), domain.Job{ID: "j2", FileType: domain.FileTypeJPG})
	require.NoError(t, err)
	assert.Equal(t, "<!-- Page 1 -->\ntext for jpegbytes\n\n", got.Markdown)

	img := model.last[len(model.last)-1].Images[0]
	assert.Equal(t, "image/jpeg", img.MIMEType)
}

func TestExtract_TextPassthroughUsesRawText(t *testing.T) {
	raw := "  Heavy rain expected in Lahore.  "
	fetcher := &mockFetcher{err: errors.New("must not fetch")}
	model := &pageModel{}
	e := newTestExtractor(fetcher, &mockRasterizer{}, model)

	got, err := e.Extract(context.Background(), domain.Job{ID: "j3", FileType: domain.FileTypeText, RawText: &raw})
	require.NoError(t, err)
	assert.Equal(t, "<!-- Page 1 -->\nHeavy rain expected in Lahore.\n\n", got.Markdown)
	assert.Equal(t, domain.MethodDirect, got.ExtractionMethod)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
	assert.Zero(t, model.calls)
	assert.Empty(t, fetcher.urls)
}

func TestExtract_TextWithoutRawTextFetches(t *testing.T) {
	fetcher := &mockFetcher{data: []byte("Flood warning for Sukkur")}
	e := newTestExtractor(fetcher, &mockRasterizer{}, &pageModel{})

	got, err := e.Extract(context.Background(), domain.Job{ID: "j4", SourceURL: "https://pmd.gov.pk/a.txt", FileType: domain.FileTypeText})
	require.NoError(t, err)
	assert.Contains(t, got.Markdown, "Flood warning for Sukkur")
	assert.Equal(t, []string{"https://pmd.gov.pk/a.txt"}, fetcher.urls)
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *mockFetcher
		raster  *mockRasterizer
		ft      domain.FileType
		wantErr error
	}{
		{"fetch", &mockFetcher{err: domain.ErrFetch}, &mockRasterizer{}, domain.FileTypePDF, domain.ErrFetch},
		{"corrupt pdf", &mockFetcher{data: []byte("x")}, &mockRasterizer{err: domain.ErrDecode}, domain.FileTypePDF, domain.ErrDecode},
		{"no pages", &mockFetcher{data: []byte("x")}, &mockRasterizer{}, domain.FileTypePDF, domain.ErrDecode},
		{"pptx", &mockFetcher{data: []byte("x")}, &mockRasterizer{}, domain.FileTypePPTX, domain.ErrDecode},
		{"invalid utf8", &mockFetcher{data: []byte{0xff, 0xfe}}, &mockRasterizer{}, domain.FileTypeText, domain.ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExtractor(tt.fetcher, tt.raster, &pageModel{})
			_, err := e.Extract(context.Background(), domain.Job{ID: "j", FileType: tt.ft})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPageMessages_FixedPrompt(t *testing.T) {
	a := pageMessages(domain.Image{MIMEType: "image/png", Data: []byte("a")})
	b := pageMessages(domain.Image{MIMEType: "image/png", Data: []byte("b")})
	require.Len(t, a, len(b))
	for i := range a {
		assert.Equal(t, a[i].Role, b[i].Role)
		assert.Equal(t, a[i].Text, b[i].Text)
	}
	assert.Equal(t, domain.RoleSystem, a[0].Role)
	assert.Contains(t, a[len(a)-1].Text, "Ignore Urdu text")
}

// --- HTTPFetcher ---

func TestHTTPFetcher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(5*time.Second).Fetch(context.Background(), srv.URL+"/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), body)
}

func TestHTTPFetcher_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(5*time.Second).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetch)
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(50*time.Millisecond).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetch)
}
