package domain

import "context"

// DirectoryQuery is one request to the agent directory.
type DirectoryQuery struct {
	Mode       QueryMode
	CategoryID string
	Text       string
	Location   *Coordinate
	// MaxDistance bounds browse, category and search queries; for nearby it
	// is the search radius. Only sent with a Location.
	MaxDistance *float64
	Limit       int // nearby only
	OnlineOnly  bool
}

// Directory is the remote agent directory.
type Directory interface {
	ListAgents(ctx context.Context, q DirectoryQuery) ([]AgentCandidate, error)
	Agent(ctx context.Context, id string, location *Coordinate) (AgentCandidate, error)
}
