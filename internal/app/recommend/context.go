package recommend

import (
	"time"

	"github.com/osa030/encore/internal/app/filter"
	"github.com/osa030/encore/internal/app/scoring"
	"github.com/osa030/encore/internal/domain/track"
)

// Context is the listening state a recommendation is derived from. It is never stored.
type Context struct {
	Seed         track.Track
	Window       []track.Track // Oldest first, seed last
	PlayedIDs    map[string]struct{}
	RecentTitles []string
	Mood         scoring.Mood
	Tags         []string // Style tags of the seed title
	Streak       int      // Consecutive trailing plays by the seed's author
}

// NewContext builds a Context from history, keeping the last window entries.
// It returns nil when history is empty.
func NewContext(history []track.Track, current *track.Track, window int, now time.Time) *Context {
	if len(history) == 0 {
		return nil
	}
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	rc := &Context{
		Seed:         history[len(history)-1],
		Window:       history,
		PlayedIDs:    make(map[string]struct{}, len(history)+1),
		RecentTitles: make([]string, 0, len(history)),
		Mood:         scoring.MoodAt(now),
		Streak:       filter.Streak(history),
	}
	for _, t := range history {
		if t.ID != "" {
			rc.PlayedIDs[t.ID] = struct{}{}
		}
		rc.RecentTitles = append(rc.RecentTitles, t.Title)
	}
	if current != nil && current.ID != "" {
		rc.PlayedIDs[current.ID] = struct{}{}
	}
	rc.Tags = scoring.ExtractStyleTags(rc.Seed.Title)
	return rc
}

func (rc *Context) filterContext() *filter.Context {
	return &filter.Context{
		Seed:         rc.Seed,
		PlayedIDs:    rc.PlayedIDs,
		RecentTitles: rc.RecentTitles,
		Streak:       rc.Streak,
	}
}
