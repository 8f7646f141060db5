package recommend

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/catalog"
	"github.com/osa030/encore/internal/app/filter"
	"github.com/osa030/encore/internal/app/scoring"
	"github.com/osa030/encore/internal/app/similarity"
	"github.com/osa030/encore/internal/infra/config"
	"github.com/osa030/encore/internal/infra/lastfm"
	"github.com/osa030/encore/internal/infra/spotify"
)

const durationFilter = "duration_limit_filter"

// NewEngineFromConfig creates an engine with the filters, curation and optional
// external services described by cfg. opts are applied after the configured ones.
func NewEngineFromConfig(cfg *config.Config, cat catalog.Catalog, opts ...Option) (*Engine, error) {
	deduper := similarity.NewDeduper(nil, cfg.Recommend.SimilarityThreshold)

	chain, err := filter.NewDefaultChain(deduper, cfg.Recommend.MaxArtistStreak, FilterSpecs(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter chain")
	}

	curation := scoring.NewCuration(scoring.CurationData{
		KnownArtists:  cfg.Curation.KnownArtists,
		Genres:        cfg.Curation.Genres,
		GenreKeywords: cfg.Curation.GenreKeywords,
		MoodGenres:    cfg.Curation.MoodGenres,
		MoodQueries:   cfg.Curation.MoodQueries,
	})

	var configured []Option
	if cfg.SpotifyEnabled() {
		configured = append(configured, WithService(spotify.New(spotify.Config{
			ClientID:      cfg.Spotify.ClientID,
			ClientSecret:  cfg.Spotify.ClientSecret,
			Market:        cfg.Spotify.Market,
			TokenMargin:   secs(cfg.Spotify.TokenMarginSec),
			Timeout:       secs(cfg.Spotify.TimeoutSec),
			MaxRetryAfter: secs(cfg.Spotify.MaxRetryAfterSec),
		})))
		zlog.Info().Msg("recommend: external strategy enabled")
	}
	if cfg.LastFM.APIKey != "" {
		client, err := lastfm.New(lastfm.Config{APIKey: cfg.LastFM.APIKey})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create last.fm client")
		}
		configured = append(configured, WithSimilarSource(client))
		zlog.Info().Msg("recommend: similar artist lookups enabled")
	}

	engineCfg := Config{
		HistoryWindow:   cfg.Recommend.HistoryWindow,
		ResultsPerQuery: cfg.Recommend.ResultsPerQuery,
		TopCandidates:   cfg.Recommend.TopCandidates,
		ExternalLimit:   cfg.Recommend.ExternalLimit,
		Timeout:         cfg.Recommend.Timeout(),
		SimilarLimit:    cfg.LastFM.SimilarLimit,
	}
	return NewEngine(cat, scoring.NewScorer(curation), chain, engineCfg, append(configured, opts...)...), nil
}

// FilterSpecs returns the optional filters enabled in cfg, in name order.
// Without an explicit duration_limit_filter entry, recommend.max_duration_min drives it
// and 0 disables it.
func FilterSpecs(cfg *config.Config) []filter.Spec {
	names := make([]string, 0, len(cfg.Filters))
	for name := range cfg.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]filter.Spec, 0, len(names)+1)
	for _, name := range names {
		if fc := cfg.Filters[name]; fc.Enabled {
			specs = append(specs, filter.Spec{Name: name, Settings: fc.Settings})
		}
	}

	if _, explicit := cfg.Filters[durationFilter]; !explicit {
		if limit := cfg.Recommend.MaxDurationMin; limit != nil && *limit > 0 {
			specs = append(specs, filter.Spec{
				Name:     durationFilter,
				Settings: map[string]any{"max_minutes": *limit, "min_minutes": 0},
			})
		}
	}
	return specs
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
