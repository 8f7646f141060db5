package catalog

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/encore/internal/domain/track"
)

// DefaultLimit is the number of results requested per query.
const DefaultLimit = 5

type entry struct {
	provider Provider
	limiter  *rate.Limiter
}

// Client routes queries to providers by prefix and falls back through the rest in order.
type Client struct {
	entries  []entry
	byPrefix map[string]int
	limit    int
}

// Options configures a Client.
type Options struct {
	RatePerSec float64 // Per-provider request rate; 0 disables limiting
	Burst      int
	Limit      int // Results per query
}

// NewClient creates a catalog client over providers, in fallback order.
func NewClient(providers []Provider, opts Options) *Client {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	c := &Client{
		entries:  make([]entry, 0, len(providers)),
		byPrefix: make(map[string]int, len(providers)),
		limit:    opts.Limit,
	}
	for _, p := range providers {
		limiter := rate.NewLimiter(rate.Inf, 0)
		if opts.RatePerSec > 0 {
			limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst)
		}
		if _, dup := c.byPrefix[p.Prefix()]; !dup {
			c.byPrefix[p.Prefix()] = len(c.entries)
		}
		c.entries = append(c.entries, entry{provider: p, limiter: limiter})
	}
	return c
}

// Prefixes returns the routable prefixes in fallback order.
func (c *Client) Prefixes() []string {
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.provider.Prefix())
	}
	return out
}

// Search runs a query. A "prefix:" query starts at that provider; others start at the first.
// The first non-empty result wins. It returns an *Error only when every provider failed.
func (c *Client) Search(ctx context.Context, query string) ([]track.Track, error) {
	start, text := c.route(query)
	if len(c.entries) == 0 {
		return nil, newError("none", text, errors.New("no catalog providers configured"))
	}

	var lastErr error
	failed := 0
	for i := range c.entries {
		e := c.entries[(start+i)%len(c.entries)]
		tracks, err := c.searchEntry(ctx, e, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, newError(e.provider.Name(), text, ctx.Err())
			}
			zlog.Warn().Msgf("catalog provider failed, trying next: provider=%s query=%q error=%v", e.provider.Name(), text, err)
			lastErr = err
			failed++
			continue
		}
		if len(tracks) > 0 {
			return tracks, nil
		}
		zlog.Debug().Msgf("catalog provider returned no results: provider=%s query=%q", e.provider.Name(), text)
	}

	if failed == len(c.entries) {
		return nil, lastErr
	}
	return []track.Track{}, nil
}

// SearchWith runs a query against the provider registered for prefix only.
func (c *Client) SearchWith(ctx context.Context, prefix, query string) ([]track.Track, error) {
	idx, ok := c.byPrefix[prefix]
	if !ok {
		return nil, newError(prefix, query, errors.Newf("unknown catalog prefix: %s", prefix))
	}
	return c.searchEntry(ctx, c.entries[idx], query)
}

func (c *Client) searchEntry(ctx context.Context, e entry, query string) ([]track.Track, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, newError(e.provider.Name(), query, err)
	}

	tracks, err := e.provider.Search(ctx, query, c.limit)
	if err != nil {
		return nil, newError(e.provider.Name(), query, err)
	}
	if len(tracks) > c.limit {
		tracks = tracks[:c.limit]
	}
	for i := range tracks {
		if tracks[i].Source == "" {
			tracks[i].Source = e.provider.Prefix()
		}
	}
	return tracks, nil
}

func (c *Client) route(query string) (int, string) {
	if prefix, rest, ok := strings.Cut(query, ":"); ok {
		if idx, known := c.byPrefix[prefix]; known {
			return idx, strings.TrimSpace(rest)
		}
	}
	return 0, strings.TrimSpace(query)
}
