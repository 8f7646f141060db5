package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/encore/internal/infra/config"
	"github.com/osa030/encore/internal/infra/lavalink"
)

func TestNewClientFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
catalog:
  providers:
    - type: youtube_music
    - type: youtube
      prefix: yt
    - type: ytdlp
      settings:
        extractor: scsearch
    - type: lavalink
      prefix: deezer
      settings:
        source: dzsearch
`))
	require.NoError(t, err)

	node := lavalink.NewNode(lavalink.Config{Host: "localhost", Port: 2333})
	c, err := NewClientFromConfig(cfg, node, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ytmsearch", "yt", "scsearch", "deezer"}, c.Prefixes())
}

func TestNewClientFromConfig_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`{}`))
	require.NoError(t, err)

	c, err := NewClientFromConfig(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ytmsearch", "ytsearch"}, c.Prefixes())
}

func TestNewClientFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name      string
		providers []config.ProviderConfig
	}{
		{"none", nil},
		{"lavalink without node", []config.ProviderConfig{{Type: "lavalink", Prefix: "scsearch"}}},
		{"unknown type", []config.ProviderConfig{{Type: "napster"}}},
		{"invalid settings", []config.ProviderConfig{{Type: "ytdlp", Settings: map[string]any{"timeout_sec": -1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Catalog.Providers = tt.providers
			_, err := NewClientFromConfig(cfg, nil, nil)
			assert.Error(t, err)
		})
	}
}
