package domain

import "errors"

var (
	// ErrPermissionDenied means the user refused location access. Discovery
	// continues without a device fix.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrLocationTimeout means no position fix arrived within the deadline.
	ErrLocationTimeout = errors.New("location fix timed out")

	// ErrGeocodingFailed is absorbed by the resolver; a coordinate without a
	// label is still usable for ranking.
	ErrGeocodingFailed = errors.New("reverse geocoding failed")

	// ErrNetworkUnavailable means the directory could not be reached.
	ErrNetworkUnavailable = errors.New("directory unreachable")

	// ErrServiceError covers non-2xx responses and malformed payloads.
	ErrServiceError = errors.New("directory service error")

	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrAgentNotFound     = errors.New("agent not found")
)
