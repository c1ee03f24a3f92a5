package domain

import "time"

// LocationSource records how a ResolvedLocation was obtained.
type LocationSource string

const (
	SourceDevice LocationSource = "device"
	SourceSaved  LocationSource = "saved"
	SourceManual LocationSource = "manual-search"
)

// ResolvedLocation is a coordinate with its place label and provenance.
type ResolvedLocation struct {
	Coordinates Coordinate       `json:"coordinates"`
	Place       PlaceDescription `json:"place"`
	Source      LocationSource   `json:"source"`
	CapturedAt  time.Time        `json:"captured_at"`
}

// FreshAt reports whether the location is recent enough to skip a new device
// fix at now. Manual selections express user intent and never go stale.
func (l ResolvedLocation) FreshAt(now time.Time, maxAge time.Duration) bool {
	if l.Source == SourceManual {
		return true
	}
	return now.Sub(l.CapturedAt) <= maxAge
}

// Permission is the OS location permission state.
type Permission string

const (
	PermissionUnknown Permission = "unknown"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)
