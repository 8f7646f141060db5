package youtube

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/ppalone/ytsearch"

	"github.com/osa030/encore/internal/domain/track"
)

type videoResult struct {
	VideoID  string
	Title    string
	Channel  string
	Duration string
}

// VideoProvider searches regular YouTube videos.
type VideoProvider struct {
	prefix   string
	settings Settings
	search   func(ctx context.Context, query string) ([]videoResult, error)
}

// NewVideoProvider creates a YouTube search provider routed by prefix.
func NewVideoProvider(prefix string, raw map[string]any, httpClient *http.Client) (*VideoProvider, error) {
	s, err := DecodeSettings(raw)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "ytsearch"
	}

	client := ytsearch.NewClient(httpClient)
	search := func(ctx context.Context, query string) ([]videoResult, error) {
		res, err := client.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		out := make([]videoResult, 0, len(res.Results))
		for _, r := range res.Results {
			out = append(out, videoResult{VideoID: r.VideoID, Title: r.Title, Channel: r.Channel, Duration: r.Duration})
		}
		return out, nil
	}
	return &VideoProvider{prefix: prefix, settings: s, search: search}, nil
}

func (p *VideoProvider) Name() string   { return "youtube" }
func (p *VideoProvider) Prefix() string { return p.prefix }

// Search returns up to limit videos for the query.
func (p *VideoProvider) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	ctx, cancel := context.WithTimeout(ctx, p.settings.timeout())
	defer cancel()

	results, err := p.search(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "youtube search failed: query=%q", query)
	}

	tracks := make([]track.Track, 0, limit)
	for _, r := range results {
		if r.VideoID == "" {
			continue
		}
		tracks = append(tracks, track.Track{
			ID:       r.VideoID,
			Title:    r.Title,
			Author:   r.Channel,
			Duration: parseColonDuration(r.Duration),
			URI:      watchURL + r.VideoID,
		})
		if limit > 0 && len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}
