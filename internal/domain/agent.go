package domain

// AgentCandidate is a service agent as returned by the directory, before
// ranking.
type AgentCandidate struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Categories          []string    `json:"categories"`
	RatingAvg           float64     `json:"rating_avg"`
	RatingCount         int         `json:"rating_count"`
	RatePerDistanceUnit float64     `json:"rate_per_distance_unit"`
	IsOnline            bool        `json:"is_online"`
	Coordinates         *Coordinate `json:"coordinates,omitempty"`

	// ReportedDistance is the directory's own distance in km, when it sends
	// one instead of agent coordinates. Ranking does not use it.
	ReportedDistance *float64 `json:"reported_distance_km,omitempty"`

	// Synthetic marks fallback roster entries that are not real directory data.
	Synthetic bool `json:"synthetic,omitempty"`
}

// RankedCandidate is a candidate annotated with its distance from the
// reference coordinate and its 0-based position in the ranked list.
type RankedCandidate struct {
	AgentCandidate
	Distance *float64 `json:"distance_km"`
	Rank     int      `json:"rank"`
}
