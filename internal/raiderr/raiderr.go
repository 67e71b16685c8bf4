// Package raiderr defines this repository's error kinds (spec.md §7) as
// wrapped sentinel errors, in the idiom of eventloop/errors.go: typed
// values implementing Unwrap so errors.Is/As see through them, constructed
// via a WrapError-style helper rather than ad-hoc fmt.Errorf calls.
package raiderr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per spec.md §7 error kind.
var (
	ErrProtocolMalformed = errors.New("raid5: protocol malformed")
	ErrServiceNotFound    = errors.New("raid5: service not found")
	ErrAuthFailed         = errors.New("raid5: authentication failed")
	ErrDiskIO             = errors.New("raid5: disk i/o error")
	ErrDiskMissing        = errors.New("raid5: disk missing")
	ErrVolumeDegraded     = errors.New("raid5: volume degraded")
	ErrVolumeDead         = errors.New("raid5: volume dead")
	ErrPeerUnreachable    = errors.New("raid5: peer unreachable")
	ErrTimeoutExceeded    = errors.New("raid5: timeout exceeded")
	ErrHeaderCorrupt      = errors.New("raid5: header corrupt")
	ErrInternal           = errors.New("raid5: internal error")
)

// Wrap attaches context to one of the sentinel errors above while keeping
// errors.Is(result, sentinel) true, mirroring eventloop.WrapError.
func Wrap(sentinel error, context string) error {
	return fmt.Errorf("%s: %w", context, sentinel)
}

// StatusFor implements spec.md §7's user-visible status mapping.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrProtocolMalformed):
		return 400
	case errors.Is(err, ErrAuthFailed):
		return 401
	case errors.Is(err, ErrServiceNotFound), errors.Is(err, ErrDiskMissing):
		return 404
	case errors.Is(err, ErrVolumeDead):
		return 507
	case errors.Is(err, ErrVolumeDegraded), errors.Is(err, ErrPeerUnreachable),
		errors.Is(err, ErrTimeoutExceeded):
		return 503
	default:
		return 500
	}
}

// ReasonFor returns the standard HTTP reason phrase for a StatusFor result,
// for use composing the response status line (spec.md §4.5 SEND_STATUS).
func ReasonFor(status int) string {
	switch status {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	case 507:
		return "Insufficient Storage"
	default:
		return "Unknown"
	}
}
