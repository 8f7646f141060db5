// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Log       LogConfig               `yaml:"log"`
	Discord   DiscordConfig           `yaml:"discord"`
	Lavalink  LavalinkConfig          `yaml:"lavalink"`
	Catalog   CatalogConfig           `yaml:"catalog"`
	Recommend RecommendConfig         `yaml:"recommend"`
	Filters   map[string]FilterConfig `yaml:"filters"`
	Spotify   SpotifyConfig           `yaml:"spotify"`
	LastFM    LastFMConfig            `yaml:"lastfm"`
	Curation  CurationConfig          `yaml:"curation"`
	Voice     VoiceConfig             `yaml:"voice"`
	Store     StoreConfig             `yaml:"store"`
	Session   SessionConfig           `yaml:"session"`
	Status    StatusConfig            `yaml:"status"`
	Hooks     HooksConfig             `yaml:"hooks"`
}

// LogConfig represents logger configuration.
type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
}

// DiscordConfig represents Discord bot configuration.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// LavalinkConfig represents audio backend node configuration.
type LavalinkConfig struct {
	Host                 string `yaml:"host" default:"localhost"`
	Port                 int    `yaml:"port" default:"2333" validate:"gt=0,lte=65535"`
	Password             string `yaml:"password"`
	Secure               bool   `yaml:"secure"`
	HealthIntervalSec    int    `yaml:"health_interval_sec" default:"60" validate:"gt=0"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" default:"3" validate:"gt=0"`
	HTTPTimeoutSec       int    `yaml:"http_timeout_sec" default:"10" validate:"gt=0"`
}

// HealthInterval returns the backend health check interval.
func (c LavalinkConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSec) * time.Second
}

// HTTPTimeout returns the REST request timeout.
func (c LavalinkConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// CatalogConfig represents catalog search configuration.
type CatalogConfig struct {
	Providers  []ProviderConfig `yaml:"providers" validate:"dive"`
	RatePerSec float64          `yaml:"rate_per_sec" default:"5" validate:"gte=0"`
	Burst      int              `yaml:"burst" default:"5" validate:"gte=0"`
	Secondary  string           `yaml:"secondary" default:"ytsearch"`
}

// ProviderConfig represents a single catalog provider configuration.
type ProviderConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=youtube_music youtube ytdlp lavalink"`
	Prefix   string         `yaml:"prefix"`
	Settings map[string]any `yaml:"settings"`
}

// DefaultProviders is used when no catalog provider is configured.
var DefaultProviders = []ProviderConfig{
	{Type: "youtube_music", Prefix: "ytmsearch"},
	{Type: "youtube", Prefix: "ytsearch"},
}

// RecommendConfig represents recommendation engine configuration.
type RecommendConfig struct {
	HistoryWindow       int      `yaml:"history_window" default:"30" validate:"gt=0"`
	SimilarityThreshold float64  `yaml:"similarity_threshold" default:"0.85" validate:"gt=0,lte=1"`
	MaxArtistStreak     int      `yaml:"max_artist_streak" default:"3" validate:"gt=0"`
	ResultsPerQuery     int      `yaml:"results_per_query" default:"5" validate:"gt=0"`
	TopCandidates       int      `yaml:"top_candidates" default:"5" validate:"gt=0"`
	ExternalLimit       int      `yaml:"external_limit" default:"8" validate:"gt=0,lte=100"`
	TimeoutSec          int      `yaml:"timeout_sec" default:"10" validate:"gt=0"`
	MaxDurationMin      *float64 `yaml:"max_duration_min" default:"15" validate:"omitempty,gte=0"`
}

// Timeout returns the per sub-search timeout.
func (c RecommendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// SpotifyConfig represents recommendation service configuration.
// Empty credentials disable the external strategy.
type SpotifyConfig struct {
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	Market           string `yaml:"market" validate:"omitempty,len=2"`
	TokenMarginSec   int    `yaml:"token_margin_sec" default:"60" validate:"gte=0"`
	TimeoutSec       int    `yaml:"timeout_sec" default:"10" validate:"gt=0"`
	MaxRetryAfterSec int    `yaml:"max_retry_after_sec" default:"30" validate:"gt=0"`
}

// LastFMConfig represents Last.fm configuration.
type LastFMConfig struct {
	APIKey       string `yaml:"api_key"`
	SimilarLimit int    `yaml:"similar_limit" default:"5" validate:"gt=0,lte=50"`
}

// CurationConfig represents the curated lookup tables used by scoring.
type CurationConfig struct {
	KnownArtists  []string            `yaml:"known_artists"`
	Genres        map[string][]string `yaml:"genres"`
	GenreKeywords map[string][]string `yaml:"genre_keywords"`
	MoodGenres    map[string][]string `yaml:"mood_genres"`
	MoodQueries   map[string]string   `yaml:"mood_queries"`
}

// VoiceConfig represents voice connection supervision configuration.
type VoiceConfig struct {
	BackoffSec     []int `yaml:"backoff_sec" default:"[5,10,30]" validate:"min=1,dive,gt=0"`
	JoinTimeoutSec int   `yaml:"join_timeout_sec" default:"10" validate:"gt=0"`
}

// Backoff returns the reconnect delays.
func (c VoiceConfig) Backoff() []time.Duration {
	out := make([]time.Duration, 0, len(c.BackoffSec))
	for _, s := range c.BackoffSec {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// StoreConfig represents voice target persistence configuration.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig represents per-session defaults.
type SessionConfig struct {
	AutoRecommend *bool `yaml:"auto_recommend" default:"true"`
	IdleLeave     *bool `yaml:"idle_leave" default:"true"`
}

// StatusConfig represents the status endpoint configuration.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// HooksConfig represents shell commands run at process lifecycle points.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	if len(cfg.Catalog.Providers) == 0 {
		cfg.Catalog.Providers = append([]ProviderConfig(nil), DefaultProviders...)
	}

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("LAVALINK_PASSWORD"); v != "" {
		c.Lavalink.Password = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.LastFM.APIKey = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	seen := make(map[string]struct{}, len(c.Catalog.Providers))
	for i, p := range c.Catalog.Providers {
		if p.Prefix == "" {
			continue
		}
		if _, dup := seen[p.Prefix]; dup {
			return errors.Newf("duplicate catalog prefix %q (provider index %d)", p.Prefix, i)
		}
		seen[p.Prefix] = struct{}{}
	}
	return nil
}

// ValidateServer checks the fields only the bot process needs.
func (c *Config) ValidateServer() error {
	if c.Discord.Token == "" {
		return errors.New("discord.token is required")
	}
	if c.Lavalink.Host == "" {
		return errors.New("lavalink.host is required")
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// SpotifyEnabled reports whether recommendation service credentials are present.
func (c *Config) SpotifyEnabled() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// AutoRecommendEnabled returns the session default for automatic continuation.
func (c SessionConfig) AutoRecommendEnabled() bool {
	return c.AutoRecommend == nil || *c.AutoRecommend
}

// IdleLeaveEnabled reports whether the bot leaves once nothing is left to play.
func (c SessionConfig) IdleLeaveEnabled() bool {
	return c.IdleLeave == nil || *c.IdleLeave
}
