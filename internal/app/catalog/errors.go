package catalog

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrCatalog marks search and network failures. It is recoverable: callers treat it as no results.
var ErrCatalog = errors.New("catalog error")

// Error describes a failed search against a provider.
type Error struct {
	Provider string
	Query    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog search failed: provider=%s query=%q: %v", e.Provider, e.Query, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCatalog) hold for every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrCatalog
}

func newError(provider, query string, err error) error {
	return &Error{Provider: provider, Query: query, Err: err}
}
