package lavalink

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/encore/internal/domain/track"
)

// ProviderSettings configures a loadtracks search provider.
type ProviderSettings struct {
	// Search prefix understood by the node, e.g. "scsearch" or "dzsearch".
	Source string `mapstructure:"source"`
}

// Provider searches through the node's source managers.
type Provider struct {
	node   *Node
	prefix string
	source string
}

// NewProvider creates a loadtracks provider. prefix is the routing prefix; the
// node-side search prefix defaults to it.
func NewProvider(node *Node, prefix string, raw map[string]any) (*Provider, error) {
	var s ProviderSettings
	if raw != nil {
		if err := mapstructure.Decode(raw, &s); err != nil {
			return nil, errors.Wrap(err, "failed to decode lavalink provider settings")
		}
	}
	if prefix == "" {
		prefix = s.Source
	}
	if prefix == "" {
		return nil, errors.New("lavalink provider requires a prefix or settings.source")
	}
	if s.Source == "" {
		s.Source = prefix
	}
	return &Provider{node: node, prefix: prefix, source: s.Source}, nil
}

// Name implements catalog.Provider.
func (p *Provider) Name() string {
	return "lavalink:" + p.source
}

// Prefix implements catalog.Provider.
func (p *Provider) Prefix() string {
	return p.prefix
}

// Search implements catalog.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	tracks, err := p.node.LoadTracks(ctx, p.source+":"+query)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	for i := range tracks {
		tracks[i].Source = p.prefix
	}
	return tracks, nil
}
