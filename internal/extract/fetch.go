package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

// maxDocumentBytes caps a single download. Advisories are a few MB at most.
const maxDocumentBytes = 64 << 20

// HTTPFetcher downloads source documents.
type HTTPFetcher struct {
	httpClient *http.Client
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch returns the body at url. Every failure wraps domain.ErrFetch.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrFetch, err)
	}
	req.Header.Set("User-Agent", "advisory-alert-etl/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d from %s", domain.ErrFetch, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrFetch, err)
	}
	if len(body) > maxDocumentBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", domain.ErrFetch, maxDocumentBytes)
	}
	return body, nil
}
