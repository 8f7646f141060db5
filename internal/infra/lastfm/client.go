// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Client is a Last.fm API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	// Cache for artist.getSimilar, keyed by lowercased artist name
	similarArtistCache map[string][]string
	cacheMu            sync.RWMutex
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey  string
	Timeout time.Duration
}

// SimilarTrack represents a similar track from Last.fm.
type SimilarTrack struct {
	Name   string
	Artist string
}

// getSimilarTracksResponse represents the response from track.getSimilar API.
type getSimilarTracksResponse struct {
	SimilarTracks struct {
		Track []struct {
			Name   string `json:"name"`
			Artist struct {
				Name string `json:"name"`
			} `json:"artist"`
		} `json:"track"`
	} `json:"similartracks"`
}

// getSimilarArtistsResponse represents the response from artist.getSimilar API.
type getSimilarArtistsResponse struct {
	SimilarArtists struct {
		Artist []struct {
			Name string `json:"name"`
		} `json:"artist"`
	} `json:"similarartists"`
}

// apiError represents an error response from Last.fm API.
type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		apiKey:             cfg.APIKey,
		baseURL:            "https://ws.audioscrobbler.com/2.0/",
		httpClient:         &http.Client{Timeout: cfg.Timeout},
		similarArtistCache: make(map[string][]string),
	}, nil
}

// SimilarArtists retrieves artists similar to artistName. Results are cached per artist.
// Reference: https://www.last.fm/api/show/artist.getSimilar
func (c *Client) SimilarArtists(ctx context.Context, artistName string, limit int) ([]string, error) {
	if artistName == "" {
		return nil, errors.New("artist name is required")
	}
	limit = clampLimit(limit, 10)

	cacheKey := strings.ToLower(artistName)
	c.cacheMu.RLock()
	if cached, ok := c.similarArtistCache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		zlog.Debug().Msgf("using cached similar artists: artist=%s", artistName)
		return truncate(cached, limit), nil
	}
	c.cacheMu.RUnlock()

	params := url.Values{}
	params.Set("method", "artist.getSimilar")
	params.Set("artist", artistName)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("autocorrect", "1")

	var response getSimilarArtistsResponse
	if err := c.get(ctx, params, &response); err != nil {
		return nil, err
	}

	artists := make([]string, 0, len(response.SimilarArtists.Artist))
	for _, a := range response.SimilarArtists.Artist {
		if a.Name != "" {
			artists = append(artists, a.Name)
		}
	}

	c.cacheMu.Lock()
	c.similarArtistCache[cacheKey] = artists
	c.cacheMu.Unlock()
	zlog.Debug().Msgf("cached similar artists: artist=%s count=%d", artistName, len(artists))

	return artists, nil
}

// SimilarTracks retrieves similar tracks from Last.fm based on track name and artist.
// Reference: https://www.last.fm/api/show/track.getSimilar
func (c *Client) SimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]SimilarTrack, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}
	limit = clampLimit(limit, 20)

	params := url.Values{}
	params.Set("method", "track.getSimilar")
	params.Set("artist", artistName)
	params.Set("track", trackName)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("autocorrect", "1")

	var response getSimilarTracksResponse
	if err := c.get(ctx, params, &response); err != nil {
		return nil, err
	}

	similarTracks := make([]SimilarTrack, 0, len(response.SimilarTracks.Track))
	for _, t := range response.SimilarTracks.Track {
		similarTracks = append(similarTracks, SimilarTrack{
			Name:   t.Name,
			Artist: t.Artist.Name,
		})
	}
	return similarTracks, nil
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	// Last.fm reports errors in the body, sometimes with a 200 status
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != 0 {
		return errors.Newf("last.fm API error %d: %s", apiErr.Error, apiErr.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("last.fm API returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func truncate(s []string, n int) []string {
	if len(s) > n {
		return append([]string(nil), s[:n]...)
	}
	return append([]string(nil), s...)
}
