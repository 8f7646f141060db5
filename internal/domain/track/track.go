// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// Track represents a playable item returned by a catalog lookup.
// Values are treated as immutable once returned by a catalog.
type Track struct {
	ID         string        // Catalog-scoped identifier
	Title      string        // Track title as reported by the catalog
	Author     string        // Uploader or main artist
	Duration   time.Duration // 0 for live streams
	URI        string        // Source URI
	ArtworkURL string        // Artwork URL (may be empty)
	Source     string        // Provider prefix that produced this track (e.g. "ytsearch")
	Encoded    string        // Backend playable handle (may be empty)
	Album      *string       // Album name (nil if unknown)
	Year       *int          // Release year (nil if unknown)
}

// Features holds audio characteristics reported by a recommendation service.
type Features struct {
	Energy           float64
	Valence          float64
	Danceability     float64
	Acousticness     float64
	Instrumentalness float64
	Tempo            float64
}

// IsStream reports whether the track has no known duration.
func (t Track) IsStream() bool {
	return t.Duration <= 0
}

// Identifier returns what a playback backend should resolve to play the track
// when no encoded handle is available.
func (t Track) Identifier() string {
	if t.URI != "" {
		return t.URI
	}
	return "ytsearch:" + t.Title + " " + t.Author
}

// String returns "title - author" for logs.
func (t Track) String() string {
	if t.Author == "" {
		return t.Title
	}
	return t.Title + " - " + t.Author
}

// NormalizeAuthor lowercases an author name and removes the YouTube " - Topic" suffix.
func NormalizeAuthor(author string) string {
	a := strings.ToLower(strings.TrimSpace(author))
	a = strings.TrimSuffix(a, " - topic")
	return strings.TrimSpace(a)
}

// SameAuthor reports whether two tracks share the same normalized author.
func SameAuthor(a, b Track) bool {
	na := NormalizeAuthor(a.Author)
	if na == "" {
		return false
	}
	return na == NormalizeAuthor(b.Author)
}
