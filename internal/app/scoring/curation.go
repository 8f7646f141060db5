package scoring

import (
	"sort"
	"strings"

	"github.com/osa030/encore/internal/domain/track"
)

// CurationData is the externally configured lookup data used by scoring and query building.
type CurationData struct {
	KnownArtists  []string
	Genres        map[string][]string // genre -> artists
	GenreKeywords map[string][]string // genre -> title keywords
	MoodGenres    map[string][]string // mood -> preferred genres
	MoodQueries   map[string]string   // mood -> generic search query
}

var defaultMoodGenres = map[Mood][]string{
	MoodMorning:   {"acoustic", "pop", "indie"},
	MoodDay:       {"pop", "rock", "edm"},
	MoodEvening:   {"rnb", "jazz", "indie"},
	MoodLateNight: {"lofi", "ambient", "jazz"},
}

var defaultMoodQueries = map[Mood]string{
	MoodMorning:   "acoustic morning mix",
	MoodDay:       "pop hits mix",
	MoodEvening:   "chill evening mix",
	MoodLateNight: "lofi chill mix",
}

var defaultGenreKeywords = map[string][]string{
	"lofi":     {"lofi", "lo-fi"},
	"jazz":     {"jazz"},
	"ambient":  {"ambient"},
	"acoustic": {"acoustic", "unplugged"},
	"edm":      {"edm", "house", "techno", "electro"},
	"rock":     {"rock"},
	"rnb":      {"r&b", "rnb", "soul"},
}

// Curation is an immutable lookup table built from CurationData.
type Curation struct {
	known         map[string]struct{}
	artistGenre   map[string]string
	genreArtists  map[string][]string
	genreKeywords map[string][]string
	moodGenres    map[Mood][]string
	moodQueries   map[Mood]string
}

// NewCuration builds a Curation. Missing mood and keyword tables fall back to built-in defaults.
func NewCuration(data CurationData) *Curation {
	c := &Curation{
		known:         make(map[string]struct{}, len(data.KnownArtists)),
		artistGenre:   make(map[string]string),
		genreArtists:  make(map[string][]string, len(data.Genres)),
		genreKeywords: make(map[string][]string),
		moodGenres:    make(map[Mood][]string),
		moodQueries:   make(map[Mood]string),
	}

	for _, a := range data.KnownArtists {
		c.known[track.NormalizeAuthor(a)] = struct{}{}
	}

	// Sorted so an artist listed under two genres resolves the same way every run.
	genres := make([]string, 0, len(data.Genres))
	for g := range data.Genres {
		genres = append(genres, g)
	}
	sort.Strings(genres)
	for _, g := range genres {
		genre := strings.ToLower(g)
		for _, a := range data.Genres[g] {
			name := track.NormalizeAuthor(a)
			if _, ok := c.artistGenre[name]; !ok {
				c.artistGenre[name] = genre
			}
			c.genreArtists[genre] = append(c.genreArtists[genre], a)
		}
	}

	keywords := data.GenreKeywords
	if len(keywords) == 0 {
		keywords = defaultGenreKeywords
	}
	for g, kws := range keywords {
		for _, k := range kws {
			c.genreKeywords[strings.ToLower(g)] = append(c.genreKeywords[strings.ToLower(g)], strings.ToLower(k))
		}
	}

	for m, gs := range defaultMoodGenres {
		c.moodGenres[m] = gs
	}
	for m, gs := range data.MoodGenres {
		c.moodGenres[Mood(m)] = gs
	}
	for m, q := range defaultMoodQueries {
		c.moodQueries[m] = q
	}
	for m, q := range data.MoodQueries {
		c.moodQueries[Mood(m)] = q
	}
	return c
}

// IsKnown reports whether an author is in the curated known-artist set.
func (c *Curation) IsKnown(author string) bool {
	_, ok := c.known[track.NormalizeAuthor(author)]
	return ok
}

// ArtistGenre returns the curated genre of an author, if any.
func (c *Curation) ArtistGenre(author string) (string, bool) {
	g, ok := c.artistGenre[track.NormalizeAuthor(author)]
	return g, ok
}

// GenreOf infers a track's genre from its author first, then from title keywords.
func (c *Curation) GenreOf(t track.Track) string {
	if g, ok := c.ArtistGenre(t.Author); ok {
		return g
	}
	title := strings.ToLower(t.Title)
	best := ""
	for g, kws := range c.genreKeywords {
		for _, k := range kws {
			// Lowest genre name wins on multiple matches.
			if strings.Contains(title, k) && (best == "" || g < best) {
				best = g
			}
		}
	}
	return best
}

// Peers returns the other curated artists sharing the author's genre.
func (c *Curation) Peers(author string) []string {
	g, ok := c.ArtistGenre(author)
	if !ok {
		return nil
	}
	self := track.NormalizeAuthor(author)
	peers := make([]string, 0, len(c.genreArtists[g]))
	for _, a := range c.genreArtists[g] {
		if track.NormalizeAuthor(a) != self {
			peers = append(peers, a)
		}
	}
	return peers
}

// MoodGenres returns the preferred genres for a mood.
func (c *Curation) MoodGenres(m Mood) []string {
	return c.moodGenres[m]
}

// MoodQuery returns the generic search query for a mood.
func (c *Curation) MoodQuery(m Mood) string {
	if q, ok := c.moodQueries[m]; ok && q != "" {
		return q
	}
	return defaultMoodQueries[MoodLateNight]
}
