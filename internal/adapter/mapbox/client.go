// Package mapbox implements the geocoding fallback used when a place name is
// missing from the gazetteer.
package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

const (
	defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

	// pakistanBBox is minLon,minLat,maxLon,maxLat around the national border.
	pakistanBBox = "60.87,23.69,77.84,37.10"

	// MinRelevance is the lowest feature relevance accepted as a match.
	MinRelevance = 0.6

	maxAttempts    = 3
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// StatusError is a non-200 reply from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mapbox API error: status %d: %s", e.Code, e.Body)
}

// retryable reports whether the request may succeed if repeated.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Client implements domain.Geocoder using the Mapbox Geocoding API, limited
// to administrative features inside Pakistan.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	backoff    time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client. timeout bounds each HTTP
// attempt, not the whole lookup.
func NewClient(token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		backoff:    initialBackoff,
		metrics:    metrics,
		logger:     logger,
	}
}

// ForwardGeocode returns the most relevant administrative feature for query.
// Rate limiting and server errors are retried with backoff; a reply whose
// best feature scores under MinRelevance is reported as no match.
func (c *Client) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	start := time.Now()
	defer func() { c.metrics.GeocodeDuration.Observe(time.Since(start).Seconds()) }()

	target := c.searchURL(query)
	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		features, err := c.search(ctx, target)
		if err == nil {
			return bestMatch(features), nil
		}
		lastErr = err

		var se *StatusError
		if !errors.As(err, &se) || !se.retryable() || attempt == maxAttempts {
			break
		}
		c.logger.Debug("mapbox request throttled or failed, retrying", "query", query, "status", se.Code, "attempt", attempt)
		if !retry.SleepWithContext(ctx, backoff) {
			lastErr = ctx.Err()
			break
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}

	c.logger.Warn("mapbox forward geocode failed", "query", query, "error", lastErr)
	return domain.GeocodingResult{}, lastErr
}

func (c *Client) searchURL(query string) string {
	params := url.Values{
		"access_token": {c.token},
		"country":      {"pk"},
		"bbox":         {pakistanBBox},
		"language":     {"en"},
		"limit":        {"3"},
		"types":        {"region,district,place,locality"},
	}
	return fmt.Sprintf("%s/%s.json?%s", c.baseURL, url.PathEscape(query), params.Encode())
}

func (c *Client) search(ctx context.Context, target string) ([]feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return fc.Features, nil
}

// bestMatch picks the highest-relevance feature carrying a coordinate.
func bestMatch(features []feature) domain.GeocodingResult {
	var best *feature
	for i := range features {
		f := &features[i]
		if len(f.Center) != 2 || f.Relevance < MinRelevance {
			continue
		}
		if best == nil || f.Relevance > best.Relevance {
			best = f
		}
	}
	if best == nil {
		return domain.GeocodingResult{}
	}

	res := domain.GeocodingResult{
		Lon:              best.Center[0],
		Lat:              best.Center[1],
		FormattedAddress: best.PlaceName,
		PlaceName:        best.Text,
		Confidence:       best.Relevance,
	}
	if len(best.PlaceType) > 0 {
		res.PlaceType = best.PlaceType[0]
	}
	return res
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // lon, lat
	PlaceName string    `json:"place_name"`
	PlaceType []string  `json:"place_type"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}
