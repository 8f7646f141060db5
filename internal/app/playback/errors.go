package playback

import "github.com/cockroachdb/errors"

var (
	// ErrPlayback marks a track that failed to load or play.
	ErrPlayback = errors.New("playback failed")
	// ErrSourceUnsupported marks a failure caused by the track's source, worth a re-search elsewhere.
	ErrSourceUnsupported = errors.New("source unsupported")

	ErrNoTrack    = errors.New("no track playing")
	ErrNotPlaying = errors.New("not playing")
	ErrNotPaused  = errors.New("not paused")
	ErrClosed     = errors.New("controller closed")
)
