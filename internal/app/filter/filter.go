// Package filter provides the filter chain for recommendation candidates.
package filter

import (
	"context"

	"github.com/osa030/encore/internal/domain/track"
)

// Context is the listening state a candidate is checked against.
type Context struct {
	Seed         track.Track
	PlayedIDs    map[string]struct{}
	RecentTitles []string
	Streak       int // Consecutive trailing history entries by the seed's author
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "played_track", "duplicate_title", "artist_streak"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for candidate filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// Check performs the filter check.
	Check(ctx context.Context, fc *Context, t track.Track) Result
}

// Configurable is implemented by filters that accept settings from config.
type Configurable interface {
	ValidateConfig(settings map[string]any) error
}

// registry holds optional filter factories selectable from config.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
