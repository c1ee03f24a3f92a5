package domain

import "strings"

// Placeholder text used when geocoding data is missing.
const (
	PlaceholderArea    = "Current Location"
	PlaceholderCity    = "Unknown City"
	PlaceholderCountry = "Unknown Country"
	PlaceholderAddress = "Unknown Address"
)

// PlaceDescription is the human-readable label for a coordinate. Every field
// is display-safe: never empty.
type PlaceDescription struct {
	Area             string `json:"area"`
	City             string `json:"city"`
	Country          string `json:"country"`
	FormattedAddress string `json:"formatted_address"`
}

// FallbackPlace is the description used when reverse geocoding fails.
func FallbackPlace() PlaceDescription {
	return PlaceDescription{
		Area:             PlaceholderArea,
		City:             PlaceholderCity,
		Country:          PlaceholderCountry,
		FormattedAddress: PlaceholderArea,
	}
}

// DescribePlace derives a display-safe PlaceDescription from a geocoding
// result. Missing components degrade to placeholders rather than failing.
func DescribePlace(r GeocodingResult) PlaceDescription {
	area := firstNonEmpty(r.District, r.Name, r.Street)
	city := firstNonEmpty(r.City, r.Region)

	var display string
	switch {
	case area != "" && city != "" && area != city:
		display = area + ", " + city
	case city != "":
		display = city
	case r.Name != "":
		display = r.Name
	default:
		display = PlaceholderArea
	}

	formatted := r.FormattedAddress
	if formatted == "" {
		formatted = joinNonEmpty(", ", r.Name, r.Street, r.District, r.City, r.Region)
	}

	return PlaceDescription{
		Area:             display,
		City:             orPlaceholder(city, PlaceholderCity),
		Country:          orPlaceholder(r.Country, PlaceholderCountry),
		FormattedAddress: orPlaceholder(formatted, PlaceholderAddress),
	}
}

// Normalize fills any blank field with its placeholder.
func (p PlaceDescription) Normalize() PlaceDescription {
	p.Area = orPlaceholder(p.Area, PlaceholderArea)
	p.City = orPlaceholder(p.City, PlaceholderCity)
	p.Country = orPlaceholder(p.Country, PlaceholderCountry)
	p.FormattedAddress = orPlaceholder(p.FormattedAddress, PlaceholderAddress)
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}

func orPlaceholder(v, placeholder string) string {
	if strings.TrimSpace(v) == "" {
		return placeholder
	}
	return v
}
