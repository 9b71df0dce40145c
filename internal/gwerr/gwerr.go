// Package gwerr defines the small closed set of sentinel errors that
// request handlers translate into HTTP status codes (§6, §7). Keeping
// them here means no handler ever pattern-matches an engine error
// string directly.
package gwerr

import "errors"

var (
	// ErrBadRequest covers missing query-string arguments and empty uploads.
	ErrBadRequest = errors.New("HTTP arguments missing")
	// ErrAuthFailed is returned when the engine rejects the supplied credentials.
	ErrAuthFailed = errors.New("engine authentication failed")
	// ErrForbidden guards static paths that reference a password file.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when an id does not name an UNAVAILABLE slot.
	ErrNotFound = errors.New("session not found")
	// ErrQueryLocal wraps a query-local engine failure; the slot stays intact.
	ErrQueryLocal = errors.New("query-local engine error")
	// ErrNoQueryInFlight is returned by cancel when the slot has no live query id.
	ErrNoQueryInFlight = errors.New("no query in flight")
	// ErrGone is returned by drain operations when no save was performed.
	ErrGone = errors.New("output not saved")
	// ErrRangeNotSatisfiable covers drain EOF and save/drain format mismatches.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrInternal covers OOM, open failure, and fstat failure during drain.
	ErrInternal = errors.New("internal gateway error")
	// ErrConnectionFatal wraps a connection-fatal engine failure; the slot is destroyed.
	ErrConnectionFatal = errors.New("engine connection failure")
	// ErrOutOfResources is returned when the pool has no reapable slot.
	ErrOutOfResources = errors.New("out of resources")
)
