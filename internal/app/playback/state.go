// Package playback drives a session through its track lifecycle.
package playback

// State represents the playback state.
type State int

const (
	StateIdle          State = iota // Nothing playing, voice may still be connected
	StatePlaying                    // Track is playing
	StatePaused                     // Track is paused
	StateTransitioning              // Next track is being chosen or loaded
	StateDisconnected               // Torn down; the controller accepts no further work
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTransitioning:
		return "transitioning"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
