package discovery

import (
	"slices"
	"strings"
)

var serviceSuggestions = []string{
	"Electrician",
	"Plumber",
	"Home Cleaning",
	"AC Service",
	"Carpentry",
	"Painting",
	"Gardening",
	"Pest Control",
}

// Suggestions returns the service names containing query, ignoring case. An
// empty query returns every suggestion.
func Suggestions(query string) []string {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return slices.Clone(serviceSuggestions)
	}
	out := make([]string, 0, len(serviceSuggestions))
	for _, s := range serviceSuggestions {
		if strings.Contains(strings.ToLower(s), needle) {
			out = append(out, s)
		}
	}
	return out
}
