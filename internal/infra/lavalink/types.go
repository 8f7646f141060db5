// Package lavalink provides a Lavalink v4 node client: the websocket event stream,
// the REST player API and a loadtracks backed catalog provider.
package lavalink

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/encore/internal/app/playback"
	"github.com/osa030/encore/internal/domain/track"
)

// Load types returned by GET /v4/loadtracks.
const (
	loadTrack    = "track"
	loadSearch   = "search"
	loadPlaylist = "playlist"
	loadEmpty    = "empty"
	loadError    = "error"
)

type trackInfo struct {
	Identifier string  `json:"identifier"`
	IsSeekable bool    `json:"isSeekable"`
	Author     string  `json:"author"`
	Length     int64   `json:"length"`
	IsStream   bool    `json:"isStream"`
	Position   int64   `json:"position"`
	Title      string  `json:"title"`
	URI        *string `json:"uri"`
	ArtworkURL *string `json:"artworkUrl"`
	SourceName string  `json:"sourceName"`
}

type trackJSON struct {
	Encoded string    `json:"encoded"`
	Info    trackInfo `json:"info"`
}

type exceptionJSON struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

type loadResult struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type playlistData struct {
	Tracks []trackJSON `json:"tracks"`
}

// message is the union of every websocket op this client reads.
type message struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
	GuildID   string `json:"guildId,omitempty"`

	// op=event
	Type        string         `json:"type,omitempty"`
	Track       *trackJSON     `json:"track,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Exception   *exceptionJSON `json:"exception,omitempty"`
	ThresholdMs int64          `json:"thresholdMs,omitempty"`
	Code        int            `json:"code,omitempty"`

	// op=playerUpdate
	State *struct {
		Time      int64 `json:"time"`
		Position  int64 `json:"position"`
		Connected bool  `json:"connected"`
		Ping      int   `json:"ping"`
	} `json:"state,omitempty"`

	// op=stats
	Players        int `json:"players,omitempty"`
	PlayingPlayers int `json:"playingPlayers,omitempty"`
}

type voiceJSON struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

type updateTrackJSON struct {
	Encoded    *string `json:"encoded,omitempty"`
	Identifier string  `json:"identifier,omitempty"`
}

// stopTrackJSON always sends "encoded": null, which stops the track and keeps the player.
type stopTrackJSON struct {
	Encoded *string `json:"encoded"`
}

type updatePlayerJSON struct {
	Track    any        `json:"track,omitempty"` // *updateTrackJSON or *stopTrackJSON
	Position *int64     `json:"position,omitempty"`
	Paused   *bool      `json:"paused,omitempty"`
	Volume   *int       `json:"volume,omitempty"`
	Voice    *voiceJSON `json:"voice,omitempty"`
}

type playerJSON struct {
	GuildID string     `json:"guildId"`
	Track   *trackJSON `json:"track"`
	Volume  int        `json:"volume"`
	Paused  bool       `json:"paused"`
}

type errorJSON struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// toTrack converts a wire track into the domain type. source is the prefix the lookup used.
func (t trackJSON) toTrack(source string) track.Track {
	out := track.Track{
		ID:      t.Info.Identifier,
		Title:   t.Info.Title,
		Author:  t.Info.Author,
		Source:  source,
		Encoded: t.Encoded,
	}
	if !t.Info.IsStream {
		out.Duration = time.Duration(t.Info.Length) * time.Millisecond
	}
	if t.Info.URI != nil {
		out.URI = *t.Info.URI
	}
	if t.Info.ArtworkURL != nil {
		out.ArtworkURL = *t.Info.ArtworkURL
	}
	if out.Source == "" {
		out.Source = t.Info.SourceName
	}
	return out
}

// unsupportedMarkers are lowercase fragments of exception messages caused by the
// source rather than the node.
var unsupportedMarkers = []string{
	"unsupported",
	"not available",
	"unavailable",
	"no matches",
	"sign in",
	"private video",
	"blocked",
	"age restricted",
	"requires login",
}

// classify turns a Lavalink exception into a playback error.
func classify(e *exceptionJSON) error {
	if e == nil {
		return errors.Mark(errors.New("unknown track exception"), playback.ErrPlayback)
	}
	err := errors.Newf("track exception: severity=%s, message=%s, cause=%s", e.Severity, e.Message, e.Cause)
	err = errors.Mark(err, playback.ErrPlayback)
	text := strings.ToLower(e.Message + " " + e.Cause)
	for _, m := range unsupportedMarkers {
		if strings.Contains(text, m) {
			return errors.Mark(err, playback.ErrSourceUnsupported)
		}
	}
	return err
}
