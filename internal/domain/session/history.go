package session

import "github.com/osa030/encore/internal/domain/track"

// History is a bounded, most-recent-last list of played tracks.
// When full, the oldest entry is evicted first.
type History struct {
	limit int
	items []track.Track
}

// NewHistory creates a history bounded to limit entries.
// A non-positive limit falls back to DefaultHistoryWindow.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryWindow
	}
	return &History{
		limit: limit,
		items: make([]track.Track, 0, limit),
	}
}

// Append records a played track, evicting the oldest entry when over the limit.
func (h *History) Append(t track.Track) {
	h.items = append(h.items, t)
	if over := len(h.items) - h.limit; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

// Tracks returns a copy of the history, oldest first.
func (h *History) Tracks() []track.Track {
	return append([]track.Track(nil), h.items...)
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.items)
}

// Limit returns the configured window.
func (h *History) Limit() int {
	return h.limit
}

// Last returns the most recent entry.
func (h *History) Last() (track.Track, bool) {
	if len(h.items) == 0 {
		return track.Track{}, false
	}
	return h.items[len(h.items)-1], true
}

func (h *History) clone() *History {
	return &History{
		limit: h.limit,
		items: h.Tracks(),
	}
}
