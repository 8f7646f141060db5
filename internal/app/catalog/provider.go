// Package catalog provides search against one or more external music catalogs.
package catalog

import (
	"context"

	"github.com/osa030/encore/internal/domain/track"
)

// Provider is the interface for a single search backend.
// A provider must return an empty slice, not an error, when nothing matches.
type Provider interface {
	// Name returns the provider name (used in logs).
	Name() string
	// Prefix returns the query prefix routed to this provider (e.g. "ytsearch").
	Prefix() string
	// Search returns up to limit tracks for a plain text query.
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
}

// Catalog is what consumers of search depend on.
type Catalog interface {
	Search(ctx context.Context, query string) ([]track.Track, error)
}
