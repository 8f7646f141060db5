// Package recommend picks the next track when a session's queue runs dry.
package recommend

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/catalog"
	"github.com/osa030/encore/internal/app/filter"
	"github.com/osa030/encore/internal/app/scoring"
	"github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
)

// Service is the optional external taste-recommendation service.
type Service interface {
	Available() bool
	FindTrack(ctx context.Context, title, author string) (string, error)
	AudioFeatures(ctx context.Context, id string) (*track.Features, error)
	Recommendations(ctx context.Context, seedID string, features *track.Features, limit int) ([]track.Track, error)
}

// SimilarSource suggests related artists and tracks when curation has nothing to offer.
type SimilarSource interface {
	SimilarArtists(ctx context.Context, artist string, limit int) ([]string, error)
}

// Config holds engine configuration.
type Config struct {
	HistoryWindow   int           // Default session.DefaultHistoryWindow
	ResultsPerQuery int           // Default 5
	TopCandidates   int           // Weighted draw pool size, default 5
	ExternalLimit   int           // Recommendations requested from the service, default 8
	Timeout         time.Duration // Per sub-search, default 10s
	SimilarLimit    int           // Related artists requested per author, default 4
}

func (c Config) withDefaults() Config {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = session.DefaultHistoryWindow
	}
	if c.ResultsPerQuery <= 0 {
		c.ResultsPerQuery = 5
	}
	if c.TopCandidates <= 0 {
		c.TopCandidates = 5
	}
	if c.ExternalLimit <= 0 {
		c.ExternalLimit = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.SimilarLimit <= 0 {
		c.SimilarLimit = maxPeerQueries * 2
	}
	return c
}

// Engine orchestrates the external, heuristic and last-resort strategies.
// One engine serves every session in the process.
type Engine struct {
	catalog catalog.Catalog
	scorer  *scoring.Scorer
	chain   *filter.Chain
	service Service
	similar SimilarSource
	config  Config
	now     func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithService enables the external strategy.
func WithService(s Service) Option {
	return func(e *Engine) { e.service = s }
}

// WithSimilarSource adds related-artist lookups to the heuristic strategy.
func WithSimilarSource(s SimilarSource) Option {
	return func(e *Engine) { e.similar = s }
}

// WithRand replaces the random source used for selection.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithClock replaces the wall clock used for mood buckets.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a recommendation engine. A nil chain uses filter.NewDefaultChain defaults.
func NewEngine(cat catalog.Catalog, scorer *scoring.Scorer, chain *filter.Chain, cfg Config, opts ...Option) *Engine {
	if scorer == nil {
		scorer = scoring.NewScorer(nil)
	}
	if chain == nil {
		chain, _ = filter.NewDefaultChain(nil, filter.DefaultMaxStreak, nil)
	}

	e := &Engine{
		catalog: cat,
		scorer:  scorer,
		chain:   chain,
		config:  cfg.withDefaults(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = newRand()
	}
	return e
}

// Recommend returns the next track for a session, or nil when every strategy is exhausted.
// It never returns an error: failed lookups count as zero candidates.
func (e *Engine) Recommend(ctx context.Context, sess *session.Session) *track.Track {
	if sess == nil || sess.History == nil {
		return nil
	}

	rc := NewContext(sess.History.Tracks(), sess.Current, e.config.HistoryWindow, e.now())
	if rc == nil {
		zlog.Debug().Msgf("recommend: empty history, guild=%s", sess.GuildID)
		return nil
	}

	strategies := []struct {
		name string
		run  func(context.Context, *Context) *track.Track
	}{
		{"external", e.external},
		{"heuristic", e.heuristic},
		{"last_resort", e.lastResort},
	}

	for _, s := range strategies {
		if ctx.Err() != nil {
			zlog.Debug().Msgf("recommend: cancelled, guild=%s", sess.GuildID)
			return nil
		}
		if t := s.run(ctx, rc); t != nil {
			zlog.Info().Msgf("recommend: strategy=%s guild=%s seed=%q pick=%q", s.name, sess.GuildID, rc.Seed.String(), t.String())
			return t
		}
	}

	zlog.Info().Msgf("recommend: no candidate, guild=%s seed=%q", sess.GuildID, rc.Seed.String())
	return nil
}

// gather runs queries concurrently and merges their results in query order.
// A failed query contributes nothing and never cancels the others.
func (e *Engine) gather(ctx context.Context, queries []string) []track.Track {
	results := make([][]track.Track, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()

			tracks, err := e.catalog.Search(sctx, q)
			if err != nil {
				zlog.Warn().Msgf("recommend: search failed, query=%q error=%v", q, err)
				return
			}
			if len(tracks) > e.config.ResultsPerQuery {
				tracks = tracks[:e.config.ResultsPerQuery]
			}
			results[i] = tracks
		}(i, q)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	pool := make([]track.Track, 0)
	for _, tracks := range results {
		for _, t := range tracks {
			key := t.ID
			if key == "" {
				key = t.URI
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			pool = append(pool, t)
		}
	}
	return pool
}

func (e *Engine) intn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

func newRand() *rand.Rand {
	var seed int64
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err == nil {
		seed = int64(binary.LittleEndian.Uint64(buf[:]))
	} else {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
