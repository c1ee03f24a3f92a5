package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		coord   Coordinate
		wantErr bool
	}{
		{"origin", Coordinate{0, 0}, false},
		{"delhi", delhi, false},
		{"poles and antimeridian", Coordinate{90, 180}, false},
		{"south west corner", Coordinate{-90, -180}, false},
		{"latitude too high", Coordinate{90.0001, 0}, true},
		{"longitude too low", Coordinate{0, -180.5}, true},
		{"nan latitude", Coordinate{math.NaN(), 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidCoordinate)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestHaversine_ZeroDistance(t *testing.T) {
	for _, c := range []Coordinate{delhi, {0, 0}, {-33.8688, 151.2093}, {90, 0}} {
		assert.Equal(t, 0.0, Haversine(c, c))
	}
}

func TestHaversine_Symmetric(t *testing.T) {
	pairs := [][2]Coordinate{
		{delhi, {28.7139, 77.2090}},
		{{51.5074, -0.1278}, {40.7128, -74.0060}},
		{{-33.8688, 151.2093}, {35.6762, 139.6503}},
		{{0, 179.9}, {0, -179.9}},
	}
	for _, p := range pairs {
		assert.InDelta(t, Haversine(p[0], p[1]), Haversine(p[1], p[0]), 1e-9)
	}
}

func TestHaversine_KnownDistance(t *testing.T) {
	london := Coordinate{Latitude: 51.5074, Longitude: -0.1278}
	paris := Coordinate{Latitude: 48.8566, Longitude: 2.3522}

	assert.InDelta(t, 343.5, Haversine(london, paris), 1.0)
}

func TestHaversine_AcrossAntimeridian(t *testing.T) {
	a := Coordinate{Latitude: 0, Longitude: 179.9}
	b := Coordinate{Latitude: 0, Longitude: -179.9}

	// 0.2 degrees of longitude at the equator.
	assert.InDelta(t, 22.24, Haversine(a, b), 0.05)
}

func antipode(c Coordinate) Coordinate {
	lng := c.Longitude + 180
	if lng > 180 {
		lng -= 360
	}
	return Coordinate{Latitude: -c.Latitude, Longitude: lng}
}

func TestHaversine_Antipodal(t *testing.T) {
	halfCircumference := math.Pi * EarthRadiusKm // ~20015 km

	for lat := -90.0; lat <= 90; lat += 0.7 {
		for lng := -180.0; lng <= 180; lng += 1.3 {
			a := Coordinate{Latitude: lat, Longitude: lng}
			d := Haversine(a, antipode(a))
			require.False(t, math.IsNaN(d), "NaN distance for %v", a)
			require.InDelta(t, halfCircumference, d, 0.01, "distance for %v", a)
		}
	}
}
