package recommend

import (
	"context"
	"sort"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/domain/track"
)

// Candidate is a filtered search result with its score.
type Candidate struct {
	Track track.Track
	Score int
}

// rank filters and scores a pool, best first. Equal scores keep pool order.
func (e *Engine) rank(ctx context.Context, rc *Context, pool []track.Track, features *track.Features) []Candidate {
	fc := rc.filterContext()
	ranked := make([]Candidate, 0, len(pool))
	for _, t := range pool {
		if res := e.chain.Execute(ctx, fc, t); !res.Accepted {
			zlog.Debug().Msgf("recommend: rejected, track=%q code=%s", t.String(), res.Code)
			continue
		}
		ranked = append(ranked, Candidate{Track: t, Score: e.scorer.Score(e.scoreInput(rc, t, features))})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// pick ranks the pool and draws one of the top candidates with probability proportional to score.
func (e *Engine) pick(ctx context.Context, rc *Context, pool []track.Track, features *track.Features) *track.Track {
	if ctx.Err() != nil {
		return nil
	}
	ranked := e.rank(ctx, rc, pool, features)
	if len(ranked) == 0 {
		return nil
	}
	top := ranked
	if len(top) > e.config.TopCandidates {
		top = top[:e.config.TopCandidates]
	}
	t := e.weightedDraw(top).Track
	return &t
}

func (e *Engine) weightedDraw(top []Candidate) Candidate {
	total := 0
	for _, c := range top {
		total += c.Score
	}
	if total <= 0 {
		return top[0]
	}
	n := e.intn(total)
	for _, c := range top {
		if n < c.Score {
			return c
		}
		n -= c.Score
	}
	return top[len(top)-1]
}
