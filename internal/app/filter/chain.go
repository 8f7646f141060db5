package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/similarity"
	"github.com/osa030/encore/internal/domain/track"
)

// Spec names an optional registered filter and its settings.
type Spec struct {
	Name     string
	Settings map[string]any
}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewDefaultChain creates the chain every candidate must pass: played tracks,
// fuzzy duplicate titles and artist streaks, followed by the optional filters in specs.
func NewDefaultChain(deduper *similarity.Deduper, maxStreak int, specs []Spec) (*Chain, error) {
	c := NewChain()
	c.Add(NewPlayedTrackFilter())
	c.Add(NewDuplicateTitleFilter(deduper))
	c.Add(NewArtistStreakFilter(maxStreak))

	for _, spec := range specs {
		factory, ok := registry[spec.Name]
		if !ok {
			return nil, errors.Newf("unknown filter: %s", spec.Name)
		}
		f := factory()
		if cf, ok := f.(Configurable); ok {
			if err := cf.ValidateConfig(spec.Settings); err != nil {
				return nil, errors.Wrapf(err, "invalid settings for filter %s", spec.Name)
			}
		}
		zlog.Debug().Msgf("filter enabled: name=%s", f.Name())
		c.Add(f)
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the candidate.
func (c *Chain) Execute(ctx context.Context, fc *Context, t track.Track) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, fc, t)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
