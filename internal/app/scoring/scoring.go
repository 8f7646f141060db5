// Package scoring ranks recommendation candidates against a seed track.
// Everything here is pure: no I/O and no mutation of inputs.
package scoring

import (
	"slices"

	"github.com/osa030/encore/internal/domain/track"
)

// BaseScore is the score every candidate starts from.
const BaseScore = 100

const (
	tagOverlapBonus     = 15
	missingTagsPenalty  = -40
	knownArtistBonus    = 60
	moodGenreBonus      = 25
	longDeltaPenalty    = -30
	closeDurationBonus  = 10
	sameAuthorBonus     = 40
	bothOfficialPenalty = -5
	livePenalty         = -25
	sameAuthorCovers    = -80
	languagePenalty     = -20
)

const (
	longDelta  = 10 * 60 * 1000 // ms
	closeDelta = 60 * 1000      // ms
)

// Input is everything a candidate is scored against.
type Input struct {
	Candidate track.Track
	Seed      track.Track
	SeedTags  []string
	Mood      Mood
	Features  *track.Features // Seed features from a recommendation service, optional
}

// Scorer scores candidates with a curated lookup table.
type Scorer struct {
	curation *Curation
}

// NewScorer creates a scorer. A nil curation behaves as an empty table.
func NewScorer(c *Curation) *Scorer {
	if c == nil {
		c = NewCuration(CurationData{})
	}
	return &Scorer{curation: c}
}

// Curation returns the scorer's lookup table.
func (s *Scorer) Curation() *Curation {
	return s.curation
}

// Score returns a non-negative score for the candidate. Higher is better.
func (s *Scorer) Score(in Input) int {
	cand, seed := in.Candidate, in.Seed
	score := BaseScore

	seedTags := mergeTags(in.SeedTags, FeatureTags(in.Features))
	candTags := ExtractStyleTags(cand.Title)
	for _, t := range candTags {
		if slices.Contains(seedTags, t) {
			score += tagOverlapBonus
		}
	}
	if len(seedTags) > 0 && len(candTags) == 0 {
		score += missingTagsPenalty
	}

	if s.curation.IsKnown(cand.Author) {
		score += knownArtistBonus
	}

	if g := s.curation.GenreOf(cand); g != "" && slices.Contains(s.curation.MoodGenres(in.Mood), g) {
		score += moodGenreBonus
	}

	if !cand.IsStream() && !seed.IsStream() {
		delta := cand.Duration.Milliseconds() - seed.Duration.Milliseconds()
		if delta < 0 {
			delta = -delta
		}
		switch {
		case delta > longDelta:
			score += longDeltaPenalty
		case delta < closeDelta:
			score += closeDurationBonus
		}
	}

	sameAuthor := track.SameAuthor(cand, seed)
	if sameAuthor {
		score += sameAuthorBonus
	}

	if IsOfficialVideo(cand.Title) && IsOfficialVideo(seed.Title) {
		score += bothOfficialPenalty
	}

	if IsLive(cand.Title) && !IsLive(seed.Title) {
		score += livePenalty
	}

	if sameAuthor && IsCover(cand.Title) && IsCover(seed.Title) {
		score += sameAuthorCovers
	}

	if cl, sl := DetectLanguage(cand.Title), DetectLanguage(seed.Title); cl != "" && sl != "" && cl != sl {
		score += languagePenalty
	}

	return max(score, 0)
}
