package domain

import "time"

// DiscoveryEvent records the outcome of a committed discovery request for
// downstream analytics.
type DiscoveryEvent struct {
	RequestID      uint64         `json:"request_id"`
	Scope          string         `json:"scope"`
	Status         Status         `json:"status"`
	Mode           QueryMode      `json:"mode"`
	CandidateCount int            `json:"candidate_count"`
	TopAgentID     string         `json:"top_agent_id,omitempty"`
	LocationSource LocationSource `json:"location_source,omitempty"`
	Permission     Permission     `json:"permission"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// NewDiscoveryEvent summarises a result. The event never carries coordinates.
func NewDiscoveryEvent(scope string, r Result, at time.Time) DiscoveryEvent {
	e := DiscoveryEvent{
		RequestID:      r.RequestID,
		Scope:          scope,
		Status:         r.Status,
		Mode:           r.Mode,
		CandidateCount: len(r.Candidates),
		Permission:     r.Permission,
		OccurredAt:     at.UTC(),
	}
	if len(r.Candidates) > 0 {
		e.TopAgentID = r.Candidates[0].ID
	}
	if r.Location != nil {
		e.LocationSource = r.Location.Source
	}
	return e
}
