//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

// Live API checks. Needs MAPBOX_TOKEN:
//
//	go test -tags=mapbox ./internal/adapter/mapbox/ -run Live -count=1

func liveClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Skip("MAPBOX_TOKEN not set")
	}
	return NewClient(token, 10*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func TestLive_DistrictsResolveInsidePakistan(t *testing.T) {
	c := liveClient(t)
	tests := []struct {
		query    string
		lat, lon float64
	}{
		{"Sukkur, Pakistan", 27.7, 68.86},
		{"Dera Ghazi Khan, Pakistan", 30.05, 70.63},
		{"Chitral, Pakistan", 35.85, 71.79},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, err := c.ForwardGeocode(context.Background(), tt.query)
			require.NoError(t, err)
			require.True(t, res.Found())
			assert.InDelta(t, tt.lat, res.Lat, 0.5)
			assert.InDelta(t, tt.lon, res.Lon, 0.5)
			assert.GreaterOrEqual(t, res.Confidence, MinRelevance)
		})
	}
}

func TestLive_NonsenseQueryIsNotAnError(t *testing.T) {
	_, err := liveClient(t).ForwardGeocode(context.Background(), "XYZNONEXISTENT99")
	require.NoError(t, err)
}
