package catalog

import (
	"net/http"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/infra/config"
	"github.com/osa030/encore/internal/infra/lavalink"
	"github.com/osa030/encore/internal/infra/youtube"
	"github.com/osa030/encore/internal/infra/ytdlp"
)

// NewClientFromConfig creates a catalog client from configuration.
// node may be nil when no provider of type "lavalink" is configured.
func NewClientFromConfig(cfg *config.Config, node *lavalink.Node, httpClient *http.Client) (*Client, error) {
	if len(cfg.Catalog.Providers) == 0 {
		return nil, errors.New("no catalog providers configured")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	providers := make([]Provider, 0, len(cfg.Catalog.Providers))
	for i, pcfg := range cfg.Catalog.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating catalog provider: index=%d type=%s prefix=%s settings=%+v", i+1, pcfg.Type, pcfg.Prefix, pcfg.Settings)
		switch pcfg.Type {
		case "youtube_music":
			provider, err = youtube.NewMusicProvider(pcfg.Prefix, pcfg.Settings)

		case "youtube":
			provider, err = youtube.NewVideoProvider(pcfg.Prefix, pcfg.Settings, httpClient)

		case "ytdlp":
			provider, err = ytdlp.New(pcfg.Prefix, pcfg.Settings)

		case "lavalink":
			if node == nil {
				return nil, errors.Newf("provider index %d requires a lavalink node", i)
			}
			provider, err = lavalink.NewProvider(node, pcfg.Prefix, pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, provider)
		zlog.Info().Msgf("registered catalog provider: index=%d name=%s prefix=%s", i+1, provider.Name(), provider.Prefix())
	}

	return NewClient(providers, Options{
		RatePerSec: cfg.Catalog.RatePerSec,
		Burst:      cfg.Catalog.Burst,
		Limit:      cfg.Recommend.ResultsPerQuery,
	}), nil
}
