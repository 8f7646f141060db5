package spotify

import "github.com/cockroachdb/errors"

var (
	// ErrAuth means no credentials are configured or the service rejected them.
	// Callers treat it as "feature unavailable".
	ErrAuth = errors.New("spotify credentials unavailable")

	// ErrRateLimited means a request was still rate limited after its single retry.
	ErrRateLimited = errors.New("spotify rate limited")
)
