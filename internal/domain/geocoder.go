package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	PlaceType        string  // provider feature type, e.g. "place", "district", "region"
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Found reports whether the provider returned a usable coordinate.
func (r GeocodingResult) Found() bool {
	return r.Lat != 0 || r.Lon != 0
}

// Geocoder resolves free-text place names to coordinates.
type Geocoder interface {
	// ForwardGeocode converts a place name to coordinates. An empty result
	// with a nil error means the provider had no match.
	ForwardGeocode(ctx context.Context, query string) (GeocodingResult, error)
}
