package places

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

// Backend answers place lookups for the Resolver. Keys are normalized.
type Backend interface {
	Exact(ctx context.Context, key string) ([]domain.PlaceRecord, error)
	Approximate(ctx context.Context, key string, level domain.Level) ([]domain.PlaceRecord, error)
	Ancestors(ctx context.Context, id string) ([]string, error)
}

// GeocoderBackend serves exact lookups from the gazetteer and falls back to a
// geocoding provider for approximate lookups the gazetteer cannot answer. The
// provider's coordinate is mapped back onto the gazetteer so results are
// always reference records.
type GeocoderBackend struct {
	gazetteer *Gazetteer
	geocoder  domain.Geocoder
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewGeocoderBackend wraps g with a geocoding fallback.
func NewGeocoderBackend(g *Gazetteer, geocoder domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics) *GeocoderBackend {
	return &GeocoderBackend{gazetteer: g, geocoder: geocoder, logger: logger, metrics: metrics}
}

func (b *GeocoderBackend) Exact(ctx context.Context, key string) ([]domain.PlaceRecord, error) {
	return b.gazetteer.Exact(ctx, key)
}

func (b *GeocoderBackend) Ancestors(ctx context.Context, id string) ([]string, error) {
	return b.gazetteer.Ancestors(ctx, id)
}

// Approximate tries the gazetteer first. Provider failures are reported as
// backend errors so the job is retried rather than silently losing areas.
func (b *GeocoderBackend) Approximate(ctx context.Context, key string, level domain.Level) ([]domain.PlaceRecord, error) {
	recs, err := b.gazetteer.Approximate(ctx, key, level)
	if err != nil || len(recs) > 0 {
		return recs, err
	}

	res, err := b.geocoder.ForwardGeocode(ctx, key+", Pakistan")
	if err != nil {
		b.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("geocode %q: %w", key, err)
	}
	if !res.Found() {
		b.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return nil, nil
	}
	b.metrics.GeocodeRequests.WithLabelValues("success").Inc()

	place, ok := b.gazetteer.Locate(domain.Point{Lat: res.Lat, Lon: res.Lon}, level)
	if !ok {
		b.logger.Debug("geocoded point outside gazetteer",
			"query", key,
			"lat", res.Lat,
			"lon", res.Lon,
		)
		return nil, nil
	}
	b.logger.Debug("geocoder fallback matched",
		"query", key,
		"place_id", place.ID,
		"place_name", res.PlaceName,
	)
	return []domain.PlaceRecord{place}, nil
}
