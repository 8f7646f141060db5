package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/playback"
	"github.com/osa030/encore/internal/domain/track"
)

// LoadTracks resolves an identifier ("prefix:query" or a URL) into tracks.
// An empty result is not an error.
func (n *Node) LoadTracks(ctx context.Context, identifier string) ([]track.Track, error) {
	endpoint := n.baseURL("http") + "/v4/loadtracks?identifier=" + url.QueryEscape(identifier)

	var res loadResult
	if err := n.do(ctx, http.MethodGet, endpoint, nil, &res); err != nil {
		return nil, err
	}

	source := ""
	if i := strings.IndexByte(identifier, ':'); i > 0 && !strings.HasPrefix(identifier[i:], "://") {
		source = identifier[:i]
	}

	switch res.LoadType {
	case loadTrack:
		var t trackJSON
		if err := json.Unmarshal(res.Data, &t); err != nil {
			return nil, errors.Wrap(err, "failed to decode track")
		}
		return []track.Track{t.toTrack(source)}, nil
	case loadSearch:
		var ts []trackJSON
		if err := json.Unmarshal(res.Data, &ts); err != nil {
			return nil, errors.Wrap(err, "failed to decode search result")
		}
		return convert(ts, source), nil
	case loadPlaylist:
		var p playlistData
		if err := json.Unmarshal(res.Data, &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode playlist")
		}
		return convert(p.Tracks, source), nil
	case loadEmpty:
		return []track.Track{}, nil
	case loadError:
		var e exceptionJSON
		if err := json.Unmarshal(res.Data, &e); err != nil {
			return nil, errors.Wrap(err, "failed to decode load error")
		}
		return nil, errors.Newf("load failed: severity=%s, message=%s", e.Severity, e.Message)
	default:
		return nil, errors.Newf("unknown load type: %s", res.LoadType)
	}
}

func convert(ts []trackJSON, source string) []track.Track {
	out := make([]track.Track, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.toTrack(source))
	}
	return out
}

// updatePlayer patches the guild player. noReplace keeps a playing track untouched.
func (n *Node) updatePlayer(ctx context.Context, guildID snowflake.ID, body updatePlayerJSON, noReplace bool) (*playerJSON, error) {
	sid := n.SessionID()
	if sid == "" {
		return nil, ErrNotConnected
	}
	endpoint := n.playerURL(sid, guildID)
	if noReplace {
		endpoint += "?noReplace=true"
	}

	var p playerJSON
	if err := n.do(ctx, http.MethodPatch, endpoint, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (n *Node) destroyPlayer(ctx context.Context, guildID snowflake.ID) error {
	sid := n.SessionID()
	if sid == "" {
		return ErrNotConnected
	}
	return n.do(ctx, http.MethodDelete, n.playerURL(sid, guildID), nil, nil)
}

func (n *Node) playerURL(sessionID string, guildID snowflake.ID) string {
	return n.baseURL("http") + "/v4/sessions/" + url.PathEscape(sessionID) + "/players/" + guildID.String()
}

func (n *Node) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Authorization", n.config.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "lavalink request failed: %s", method)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorJSON
		_ = json.Unmarshal(respBody, &e)
		zlog.Debug().Msgf("lavalink: request failed, method=%s, status=%d, message=%s", method, resp.StatusCode, e.Message)
		err := errors.Newf("lavalink returned status %d: %s", resp.StatusCode, e.Message)
		if method == http.MethodPatch {
			err = classify(&exceptionJSON{Message: e.Message, Severity: "common", Cause: e.Error})
			err = errors.Wrapf(err, "lavalink returned status %d", resp.StatusCode)
		}
		return err
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// mark wraps REST failures of player calls as playback errors.
func mark(err error) error {
	if err == nil || errors.Is(err, playback.ErrPlayback) {
		return err
	}
	return errors.Mark(err, playback.ErrPlayback)
}
