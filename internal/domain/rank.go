package domain

import (
	"cmp"
	"slices"
)

// RankOptions are the request filters applied while ranking.
type RankOptions struct {
	RequireOnline bool
	MaxDistance   *float64 // km; ignored without a reference coordinate
}

// Rank annotates candidates with their distance from reference and orders
// them. It never mutates candidates and returns the same output for the same
// input.
func Rank(candidates []AgentCandidate, reference *Coordinate, opts RankOptions) []RankedCandidate {
	seen := make(map[string]struct{}, len(candidates))
	ranked := make([]RankedCandidate, 0, len(candidates))

	for _, c := range candidates {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		if opts.RequireOnline && !c.IsOnline {
			continue
		}

		rc := RankedCandidate{AgentCandidate: cloneCandidate(c)}
		if reference != nil && c.Coordinates != nil {
			d := Haversine(*reference, *c.Coordinates)
			if opts.MaxDistance != nil && d > *opts.MaxDistance {
				continue
			}
			rc.Distance = &d
		}
		ranked = append(ranked, rc)
	}

	if reference != nil {
		slices.SortStableFunc(ranked, compareByDistance)
	} else {
		slices.SortStableFunc(ranked, compareByRating)
	}

	for i := range ranked {
		ranked[i].Rank = i
	}
	return ranked
}

// compareByDistance orders known distances ascending ahead of unknown ones;
// the unknown group falls back to rating order.
func compareByDistance(a, b RankedCandidate) int {
	switch {
	case a.Distance != nil && b.Distance != nil:
		if c := cmp.Compare(*a.Distance, *b.Distance); c != 0 {
			return c
		}
		return compareTieBreak(a, b)
	case a.Distance != nil:
		return -1
	case b.Distance != nil:
		return 1
	default:
		return compareByRating(a, b)
	}
}

func compareByRating(a, b RankedCandidate) int {
	if c := cmp.Compare(b.RatingAvg, a.RatingAvg); c != 0 {
		return c
	}
	return compareTieBreak(a, b)
}

func compareTieBreak(a, b RankedCandidate) int {
	if c := cmp.Compare(b.RatingCount, a.RatingCount); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func cloneCandidate(c AgentCandidate) AgentCandidate {
	c.Categories = slices.Clone(c.Categories)
	if c.Coordinates != nil {
		coord := *c.Coordinates
		c.Coordinates = &coord
	}
	if c.ReportedDistance != nil {
		d := *c.ReportedDistance
		c.ReportedDistance = &d
	}
	return c
}
