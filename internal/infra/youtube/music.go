package youtube

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/raitonoberu/ytmusic"

	"github.com/osa030/encore/internal/domain/track"
)

type musicItem struct {
	VideoID   string
	Title     string
	Artists   []string
	Album     string
	Duration  int // seconds
	Thumbnail string
}

// MusicProvider searches YouTube Music songs.
type MusicProvider struct {
	prefix   string
	settings Settings
	search   func(query string) ([]musicItem, error)
}

// NewMusicProvider creates a YouTube Music provider routed by prefix.
func NewMusicProvider(prefix string, raw map[string]any) (*MusicProvider, error) {
	s, err := DecodeSettings(raw)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "ytmsearch"
	}
	return &MusicProvider{prefix: prefix, settings: s, search: musicSearch}, nil
}

func musicSearch(query string) ([]musicItem, error) {
	r, err := ytmusic.TrackSearch(query).Next()
	if err != nil {
		return nil, err
	}
	items := make([]musicItem, 0, len(r.Tracks))
	for _, v := range r.Tracks {
		it := musicItem{
			VideoID:  v.VideoID,
			Title:    v.Title,
			Album:    v.Album.Name,
			Duration: v.Duration,
		}
		for _, a := range v.Artists {
			it.Artists = append(it.Artists, a.Name)
		}
		if n := len(v.Thumbnails); n > 0 {
			it.Thumbnail = v.Thumbnails[n-1].URL
		}
		items = append(items, it)
	}
	return items, nil
}

func (p *MusicProvider) Name() string   { return "youtube_music" }
func (p *MusicProvider) Prefix() string { return p.prefix }

// Search returns up to limit songs for the query.
func (p *MusicProvider) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	ctx, cancel := context.WithTimeout(ctx, p.settings.timeout())
	defer cancel()

	items, err := runWithContext(ctx, func() ([]musicItem, error) {
		return p.search(query)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "youtube music search failed: query=%q", query)
	}

	tracks := make([]track.Track, 0, limit)
	for _, it := range items {
		if it.VideoID == "" {
			continue
		}
		tracks = append(tracks, fromMusicItem(it))
		if limit > 0 && len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}

func fromMusicItem(it musicItem) track.Track {
	names := make([]string, 0, len(it.Artists))
	for _, a := range it.Artists {
		if a != "" {
			names = append(names, a)
		}
	}

	t := track.Track{
		ID:         it.VideoID,
		Title:      it.Title,
		Author:     strings.Join(names, ", "),
		Duration:   time.Duration(it.Duration) * time.Second,
		URI:        musicWatchURL + it.VideoID,
		ArtworkURL: it.Thumbnail,
	}
	if it.Album != "" {
		album := it.Album
		t.Album = &album
	}
	return t
}
