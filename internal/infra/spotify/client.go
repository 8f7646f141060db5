// Package spotify provides the optional taste-recommendation service backed by the Spotify API.
package spotify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/encore/internal/domain/track"
)

// Config represents Spotify service configuration.
type Config struct {
	ClientID      string
	ClientSecret  string
	Market        string
	TokenMargin   time.Duration
	Timeout       time.Duration // Per-request timeout, default 10s
	MaxRetryAfter time.Duration // Cap for Retry-After, default 30s

	// Overridable endpoints, used by tests
	TokenURL string
	BaseURL  string
}

// Service is a Spotify client for search, audio features and recommendations.
type Service struct {
	client    *spotify.Client
	tokens    *TokenCache
	market    string
	available bool
}

// New creates a new Spotify service. Without credentials every call fails with ErrAuth.
func New(cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	retry := NewRetryTransport(http.DefaultTransport, cfg.MaxRetryAfter)
	tokens := NewTokenCache(TokenConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Margin:       cfg.TokenMargin,
	}, &http.Client{Transport: retry, Timeout: cfg.Timeout})

	httpClient := &http.Client{
		Transport: &bearerTransport{base: retry, tokens: tokens},
		Timeout:   cfg.Timeout,
	}

	var opts []spotify.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(cfg.BaseURL))
	}

	return &Service{
		client:    spotify.New(httpClient, opts...),
		tokens:    tokens,
		market:    cfg.Market,
		available: cfg.ClientID != "" && cfg.ClientSecret != "",
	}
}

// Available reports whether credentials are configured.
func (s *Service) Available() bool {
	return s.available
}

// Tokens returns the service's token cache.
func (s *Service) Tokens() *TokenCache {
	return s.tokens
}

// FindTrack looks up a track by title and author and returns its Spotify ID.
func (s *Service) FindTrack(ctx context.Context, title, author string) (string, error) {
	if !s.available {
		return "", ErrAuth
	}

	query := strings.TrimSpace(title + " " + author)
	if query == "" {
		return "", errors.New("search query is required")
	}

	opts := []spotify.RequestOption{spotify.Limit(1)}
	if s.market != "" {
		opts = append(opts, spotify.Market(s.market))
	}

	result, err := s.client.Search(ctx, query, spotify.SearchTypeTrack, opts...)
	if err != nil {
		return "", classify(err, "failed to search")
	}
	if result.Tracks == nil || len(result.Tracks.Tracks) == 0 {
		return "", errors.Newf("no spotify track found: query=%q", query)
	}
	return string(result.Tracks.Tracks[0].ID), nil
}

// AudioFeatures returns the audio characteristics of a track.
func (s *Service) AudioFeatures(ctx context.Context, id string) (*track.Features, error) {
	if !s.available {
		return nil, ErrAuth
	}

	features, err := s.client.GetAudioFeatures(ctx, spotify.ID(extractTrackID(id)))
	if err != nil {
		return nil, classify(err, "failed to get audio features")
	}
	if len(features) == 0 || features[0] == nil {
		return nil, errors.Newf("no audio features: id=%s", id)
	}

	f := features[0]
	return &track.Features{
		Energy:           float64(f.Energy),
		Valence:          float64(f.Valence),
		Danceability:     float64(f.Danceability),
		Acousticness:     float64(f.Acousticness),
		Instrumentalness: float64(f.Instrumentalness),
		Tempo:            float64(f.Tempo),
	}, nil
}

// Recommendations returns up to limit tracks seeded by a track, targeting its features when given.
// The returned tracks carry Spotify metadata only and must be resolved through a catalog to play.
func (s *Service) Recommendations(ctx context.Context, seedID string, features *track.Features, limit int) ([]track.Track, error) {
	if !s.available {
		return nil, ErrAuth
	}
	if limit <= 0 {
		limit = 8
	}

	seeds := spotify.Seeds{Tracks: []spotify.ID{spotify.ID(extractTrackID(seedID))}}
	var attrs *spotify.TrackAttributes
	if features != nil {
		attrs = spotify.NewTrackAttributes().
			TargetEnergy(features.Energy).
			TargetValence(features.Valence).
			TargetDanceability(features.Danceability)
	}

	opts := []spotify.RequestOption{spotify.Limit(limit)}
	if s.market != "" {
		opts = append(opts, spotify.Market(s.market))
	}

	recs, err := s.client.GetRecommendations(ctx, seeds, attrs, opts...)
	if err != nil {
		return nil, classify(err, "failed to get recommendations")
	}

	out := make([]track.Track, 0, len(recs.Tracks))
	for _, t := range recs.Tracks {
		artist := ""
		if len(t.Artists) > 0 {
			artist = t.Artists[0].Name
		}
		out = append(out, track.Track{
			ID:       "spotify:" + string(t.ID),
			Title:    t.Name,
			Author:   artist,
			Duration: time.Duration(t.Duration) * time.Millisecond,
			URI:      "https://open.spotify.com/track/" + string(t.ID),
			Source:   "spotify",
		})
	}
	return out, nil
}

// classify maps API failures onto ErrAuth and ErrRateLimited.
func classify(err error, msg string) error {
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrRateLimited) {
		return errors.Wrap(err, msg)
	}
	var se spotify.Error
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusTooManyRequests:
			return errors.Mark(errors.Wrap(err, msg), ErrRateLimited)
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Mark(errors.Wrap(err, msg), ErrAuth)
		}
	}
	return errors.Wrap(err, msg)
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// https://open.spotify.com/track/ID or https://open.spotify.com/intl-XX/track/ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	return input
}
