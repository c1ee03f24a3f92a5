package domain

import "strings"

// DiscoveryRequest describes one agent discovery query from Presentation.
type DiscoveryRequest struct {
	// Scope names the logical screen issuing the request. A newer request in
	// the same scope supersedes older in-flight ones.
	Scope string `json:"scope,omitempty"`

	CategoryID    *string  `json:"category_id,omitempty"`
	FreeText      *string  `json:"free_text,omitempty"`
	MaxDistance   *float64 `json:"max_distance,omitempty"`
	RequireOnline bool     `json:"require_online"`

	// Background skips any blocking device fix, e.g. for a periodic refresh.
	Background bool `json:"background,omitempty"`
}

// SearchText returns the trimmed free text, or "" when absent.
func (r DiscoveryRequest) SearchText() string {
	if r.FreeText == nil {
		return ""
	}
	return strings.TrimSpace(*r.FreeText)
}

// Category returns the trimmed category ID, or "" when absent.
func (r DiscoveryRequest) Category() string {
	if r.CategoryID == nil {
		return ""
	}
	return strings.TrimSpace(*r.CategoryID)
}

// QueryMode is the directory query variant a request resolves to.
type QueryMode string

const (
	ModeBrowse   QueryMode = "browse"
	ModeCategory QueryMode = "category"
	ModeSearch   QueryMode = "search"
	ModeNearby   QueryMode = "nearby"
)

// Status is the outcome reported to Presentation.
type Status string

const (
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
)

// Phase is a step of a single discovery request.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLocating Phase = "locating"
	PhaseFetching Phase = "fetching"
	PhaseRanking  Phase = "ranking"
	PhaseReady    Phase = "ready"
	PhaseDegraded Phase = "degraded"
)

// Result is the envelope returned to Presentation.
type Result struct {
	RequestID  uint64            `json:"request_id"`
	Status     Status            `json:"status"`
	Candidates []RankedCandidate `json:"candidates"`
	Location   *ResolvedLocation `json:"location"`
	Mode       QueryMode         `json:"mode"`
	Permission Permission        `json:"permission"`
}
