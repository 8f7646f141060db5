package filter

import (
	"context"

	"github.com/osa030/encore/internal/domain/track"
)

// DefaultMaxStreak is the number of consecutive plays allowed per artist.
const DefaultMaxStreak = 3

// ArtistStreakFilter rejects candidates by the seed's author once that author
// has already played maxStreak times in a row.
type ArtistStreakFilter struct {
	maxStreak int
}

// NewArtistStreakFilter creates a new artist streak filter.
func NewArtistStreakFilter(maxStreak int) *ArtistStreakFilter {
	if maxStreak <= 0 {
		maxStreak = DefaultMaxStreak
	}
	return &ArtistStreakFilter{maxStreak: maxStreak}
}

func (f *ArtistStreakFilter) Name() string {
	return "artist_streak_filter"
}

func (f *ArtistStreakFilter) ReturnCodes() []string {
	return []string{"artist_streak"}
}

func (f *ArtistStreakFilter) Check(ctx context.Context, fc *Context, t track.Track) Result {
	if track.SameAuthor(t, fc.Seed) && fc.Streak >= f.maxStreak {
		return Reject("artist_streak")
	}
	return Accept()
}

// Streak counts the consecutive trailing entries of history authored by the last entry's author.
func Streak(history []track.Track) int {
	if len(history) == 0 {
		return 0
	}
	last := history[len(history)-1]
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		if !track.SameAuthor(history[i], last) {
			break
		}
		n++
	}
	return n
}
