package filter

import (
	"context"

	"github.com/osa030/encore/internal/domain/track"
)

// PlayedTrackFilter rejects candidates whose identifier was already played.
type PlayedTrackFilter struct{}

// NewPlayedTrackFilter creates a new played track filter.
func NewPlayedTrackFilter() *PlayedTrackFilter {
	return &PlayedTrackFilter{}
}

func (f *PlayedTrackFilter) Name() string {
	return "played_track_filter"
}

func (f *PlayedTrackFilter) ReturnCodes() []string {
	return []string{"played_track"}
}

func (f *PlayedTrackFilter) Check(ctx context.Context, fc *Context, t track.Track) Result {
	if _, ok := fc.PlayedIDs[t.ID]; ok {
		return Reject("played_track")
	}
	if t.ID == fc.Seed.ID && t.ID != "" {
		return Reject("played_track")
	}
	return Accept()
}
