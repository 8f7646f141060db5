package recommend

import (
	"context"
	"fmt"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/scoring"
	"github.com/osa030/encore/internal/domain/track"
)

const maxPeerQueries = 2

// external asks the taste service for related tracks and resolves each one through the catalog.
func (e *Engine) external(ctx context.Context, rc *Context) *track.Track {
	if e.service == nil || !e.service.Available() {
		return nil
	}

	seedID, err := e.service.FindTrack(ctx, rc.Seed.Title, rc.Seed.Author)
	if err != nil {
		zlog.Warn().Msgf("recommend: external lookup failed, seed=%q error=%v", rc.Seed.String(), err)
		return nil
	}
	if seedID == "" {
		return nil
	}

	features, err := e.service.AudioFeatures(ctx, seedID)
	if err != nil {
		zlog.Debug().Msgf("recommend: audio features unavailable, id=%s error=%v", seedID, err)
		features = nil
	}

	recs, err := e.service.Recommendations(ctx, seedID, features, e.config.ExternalLimit)
	if err != nil {
		zlog.Warn().Msgf("recommend: external recommendations failed, id=%s error=%v", seedID, err)
		return nil
	}
	if len(recs) == 0 {
		return nil
	}

	queries := make([]string, 0, len(recs))
	for _, r := range recs {
		q := strings.TrimSpace(r.Title + " " + r.Author)
		if q != "" {
			queries = append(queries, q)
		}
	}

	return e.pick(ctx, rc, e.gather(ctx, queries), features)
}

// heuristic searches the catalog with queries derived from the seed and curation.
func (e *Engine) heuristic(ctx context.Context, rc *Context) *track.Track {
	queries := e.heuristicQueries(ctx, rc)
	if len(queries) == 0 {
		return nil
	}
	return e.pick(ctx, rc, e.gather(ctx, queries), nil)
}

func (e *Engine) heuristicQueries(ctx context.Context, rc *Context) []string {
	seed := rc.Seed
	author := strings.TrimSpace(seed.Author)

	queries := []string{strings.TrimSpace(fmt.Sprintf("%s %s mix", seed.Title, author))}
	if author == "" {
		return queries
	}

	queries = append(queries, author+" top tracks")

	for _, peer := range e.peers(ctx, author) {
		queries = append(queries, peer+" popular songs")
	}

	if len(rc.Tags) > 0 {
		queries = append(queries, fmt.Sprintf("%s %s songs", strings.Join(rc.Tags, " "), author))
	}

	if rc.Streak >= 2 {
		queries = append(queries, author+" radio")
	} else {
		queries = append(queries, "artists similar to "+author)
	}
	return queries
}

// peers returns up to maxPeerQueries related artists chosen at random.
// Curated peers win; the similar-artist source is only asked for uncurated authors.
func (e *Engine) peers(ctx context.Context, author string) []string {
	candidates := e.scorer.Curation().Peers(author)
	if len(candidates) == 0 && e.similar != nil {
		sctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		similar, err := e.similar.SimilarArtists(sctx, author, e.config.SimilarLimit)
		cancel()
		if err != nil {
			zlog.Debug().Msgf("recommend: similar artists unavailable, author=%q error=%v", author, err)
		}
		candidates = similar
	}
	if len(candidates) <= maxPeerQueries {
		return candidates
	}

	shuffled := make([]string, len(candidates))
	copy(shuffled, candidates)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := e.intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:maxPeerQueries]
}

// lastResort replays an earlier history entry, or falls back to a generic mood search.
func (e *Engine) lastResort(ctx context.Context, rc *Context) *track.Track {
	if earlier := rc.Window[:len(rc.Window)-1]; len(earlier) > 0 {
		t := earlier[e.intn(len(earlier))]
		return &t
	}

	q := e.scorer.Curation().MoodQuery(rc.Mood)
	sctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	results, err := e.catalog.Search(sctx, q)
	if err != nil {
		zlog.Warn().Msgf("recommend: mood search failed, query=%q error=%v", q, err)
		return nil
	}
	fc := rc.filterContext()
	for _, t := range results {
		if res := e.chain.Execute(ctx, fc, t); !res.Accepted {
			zlog.Debug().Msgf("recommend: mood result rejected, track=%q code=%s", t.String(), res.Code)
			continue
		}
		return &t
	}
	return nil
}

func (e *Engine) scoreInput(rc *Context, candidate track.Track, features *track.Features) scoring.Input {
	return scoring.Input{
		Candidate: candidate,
		Seed:      rc.Seed,
		SeedTags:  rc.Tags,
		Mood:      rc.Mood,
		Features:  features,
	}
}
