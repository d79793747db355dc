package llm

import "errors"

// ErrRateLimited indicates the backend rejected a request because of a rate or
// quota limit. Providers wrap their vendor-specific 429/quota failures with
// this sentinel so that callers can decide to back off and retry.
var ErrRateLimited = errors.New("llm: rate limited")

// IsRateLimited reports whether err (or anything it wraps) is a rate-limit
// rejection from the backend.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
