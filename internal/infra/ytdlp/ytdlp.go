// Package ytdlp provides a catalog provider that shells out to yt-dlp search extractors.
// It reaches sources the native clients do not cover, such as SoundCloud.
package ytdlp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/lrstanley/go-ytdlp"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/domain/track"
)

const printTemplate = "%(id)s\t%(url)s\t%(title)s\t%(uploader)s\t%(duration)s"

// Settings is the per-provider settings block.
type Settings struct {
	Extractor  string `mapstructure:"extractor" default:"scsearch" validate:"required"`
	Proxy      string `mapstructure:"proxy"`
	TimeoutSec int    `mapstructure:"timeout_sec" default:"20" validate:"gt=0"`
}

// Provider searches through a yt-dlp search extractor ("scsearch", "ytsearch", ...).
type Provider struct {
	prefix   string
	settings Settings
	run      func(ctx context.Context, target string, limit int) (string, error)
}

// New creates a yt-dlp provider. The prefix defaults to the extractor name.
func New(prefix string, raw map[string]any) (*Provider, error) {
	var s Settings
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&s); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(s); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	if prefix == "" {
		prefix = s.Extractor
	}

	p := &Provider{prefix: prefix, settings: s}
	p.run = p.runYtdlp
	return p, nil
}

func (p *Provider) Name() string   { return "ytdlp:" + p.settings.Extractor }
func (p *Provider) Prefix() string { return p.prefix }

func (p *Provider) runYtdlp(ctx context.Context, target string, limit int) (string, error) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		FlatPlaylist().
		Print(printTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", limit))
	if p.settings.Proxy != "" {
		cmd.Proxy(p.settings.Proxy)
	}

	res, err := cmd.Run(ctx, target)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// Search returns up to limit results for the query.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if limit <= 0 {
		limit = 5
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.settings.TimeoutSec)*time.Second)
	defer cancel()

	target := fmt.Sprintf("%s%d:%s", p.settings.Extractor, limit, query)
	out, err := p.run(ctx, target, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "yt-dlp search failed: target=%q", target)
	}

	tracks := parseOutput(out)
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	zlog.Debug().Msgf("yt-dlp search: target=%q results=%d", target, len(tracks))
	return tracks, nil
}

// parseOutput parses one tab separated line per entry. Malformed lines are skipped.
func parseOutput(out string) []track.Track {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	tracks := make([]track.Track, 0, len(lines))
	for _, l := range lines {
		ps := strings.Split(l, "\t")
		if len(ps) < 5 || ps[1] == "" || ps[1] == "NA" {
			continue
		}
		id := ps[0]
		if id == "" || id == "NA" {
			id = ps[1]
		}
		tracks = append(tracks, track.Track{
			ID:       id,
			URI:      ps[1],
			Title:    ps[2],
			Author:   naToEmpty(ps[3]),
			Duration: parseSeconds(ps[4]),
		})
	}
	return tracks
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func naToEmpty(s string) string {
	if s == "NA" {
		return ""
	}
	return s
}
