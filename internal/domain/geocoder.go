package domain

import "context"

// GeocodingResult contains place data returned by a geocoding provider.
// Component fields are empty when the provider does not report them.
type GeocodingResult struct {
	Coordinate       Coordinate
	FormattedAddress string
	Name             string
	Street           string
	District         string
	City             string
	Region           string
	Country          string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Empty reports whether the provider returned no usable place data.
func (r GeocodingResult) Empty() bool {
	return r.FormattedAddress == "" && r.Name == "" && r.Street == "" &&
		r.District == "" && r.City == "" && r.Region == "" && r.Country == ""
}

// Geocoder translates between coordinates and places.
type Geocoder interface {
	// ReverseGeocode converts a coordinate to place details.
	ReverseGeocode(ctx context.Context, c Coordinate) (GeocodingResult, error)

	// ForwardGeocode searches places matching free text, best match first.
	ForwardGeocode(ctx context.Context, query string, limit int) ([]GeocodingResult, error)
}
