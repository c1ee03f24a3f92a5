// Package domain models agent discovery for the ClickO marketplace client.
//
// # Locations
//
// A [ResolvedLocation] is the best position the client knows for the
// customer, tagged with where it came from:
//
//	device         a fresh OS position fix, reverse geocoded
//	saved          the single persisted cache slot, loaded at startup
//	manual-search  a place the user picked from search or a saved list
//
// Locations are never mutated. A newer capture supersedes the previous one.
//
// Place descriptions always carry display-safe text. When the geocoding
// provider returns nothing usable the fields fall back to placeholders:
//
//	Area             "Current Location"
//	City             "Unknown City"
//	Country          "Unknown Country"
//	FormattedAddress "Current Location" (failure) or "Unknown Address" (partial data)
//
// # Ranking
//
// [Rank] orders directory candidates against an optional reference
// coordinate. Distances are great-circle kilometres computed with the
// haversine formula on a 6371 km sphere ([Haversine]).
//
//	reference known:   distance asc, unknown distance last (rating desc among them)
//	reference unknown: rating desc
//	ties:              rating count desc, then ID asc
//
// Offline candidates are removed before ranking when the request requires
// online agents, so they never hold a rank slot. A distance bound excludes
// only candidates whose distance is known and larger than the bound.
//
// # Degraded results
//
// When the directory cannot be reached the client substitutes a small
// synthetic roster ([AgentCandidate.Synthetic] set) and reports
// [StatusDegraded]. Synthetic candidates are display-only and must never be
// cached.
package domain
