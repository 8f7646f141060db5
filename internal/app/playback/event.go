package playback

import (
	"github.com/disgoorg/snowflake/v2"

	"github.com/osa030/encore/internal/domain/track"
)

// EventType represents a backend lifecycle event type.
type EventType int

const (
	EventTrackStarted   EventType = iota // Track started playing
	EventTrackEnded                      // Track stopped for Reason
	EventTrackException                  // Track failed while loading or playing
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackException:
		return "track_exception"
	default:
		return "unknown"
	}
}

// EndReason tells why a track ended.
type EndReason string

const (
	EndFinished   EndReason = "finished"
	EndLoadFailed EndReason = "loadFailed"
	EndStopped    EndReason = "stopped"
	EndReplaced   EndReason = "replaced"
	EndCleanup    EndReason = "cleanup"
)

// Event represents a backend lifecycle event for one guild.
type Event struct {
	Type    EventType
	GuildID snowflake.ID
	Track   track.Track
	Reason  EndReason // EventTrackEnded only
	Err     error     // EventTrackException only
}
