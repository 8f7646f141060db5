package lavalink

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/playback"
	"github.com/osa030/encore/internal/domain/track"
)

type voiceState struct {
	sessionID string
	token     string
	endpoint  string
}

func (v *voiceState) complete() bool {
	return v.sessionID != "" && v.token != "" && v.endpoint != ""
}

// OnVoiceStateUpdate records the bot's voice session for guildID. A nil channel
// means the bot left voice and the stored state is dropped.
func (n *Node) OnVoiceStateUpdate(ctx context.Context, guildID snowflake.ID, channelID *snowflake.ID, sessionID string) {
	n.mu.Lock()
	if channelID == nil {
		delete(n.voice, guildID)
		n.mu.Unlock()
		return
	}
	v := n.voiceLocked(guildID)
	changed := v.sessionID != sessionID
	v.sessionID = sessionID
	snapshot := *v
	n.mu.Unlock()

	if changed && snapshot.complete() {
		n.sendVoice(ctx, guildID, snapshot)
	}
}

// OnVoiceServerUpdate records the voice server of guildID and forwards the full voice
// object to the player once the session ID is known too.
func (n *Node) OnVoiceServerUpdate(ctx context.Context, guildID snowflake.ID, token string, endpoint *string) {
	if endpoint == nil {
		// Discord is reallocating the voice server.
		return
	}
	n.mu.Lock()
	v := n.voiceLocked(guildID)
	v.token = token
	v.endpoint = *endpoint
	snapshot := *v
	n.mu.Unlock()

	if snapshot.complete() {
		n.sendVoice(ctx, guildID, snapshot)
	}
}

func (n *Node) voiceLocked(guildID snowflake.ID) *voiceState {
	v, ok := n.voice[guildID]
	if !ok {
		v = &voiceState{}
		n.voice[guildID] = v
	}
	return v
}

func (n *Node) sendVoice(ctx context.Context, guildID snowflake.ID, v voiceState) {
	body := updatePlayerJSON{Voice: &voiceJSON{Token: v.token, Endpoint: v.endpoint, SessionID: v.sessionID}}
	if _, err := n.updatePlayer(ctx, guildID, body, false); err != nil {
		zlog.Warn().Err(err).Msgf("lavalink: failed to forward voice state, guild=%s", guildID)
		return
	}
	zlog.Debug().Msgf("lavalink: voice state forwarded, guild=%s, endpoint=%s", guildID, v.endpoint)
}

// resendVoice forwards every known voice state after a new session was opened.
func (n *Node) resendVoice(ctx context.Context) {
	n.mu.RLock()
	states := make(map[snowflake.ID]voiceState, len(n.voice))
	for id, v := range n.voice {
		if v.complete() {
			states[id] = *v
		}
	}
	n.mu.RUnlock()

	for id, v := range states {
		n.sendVoice(ctx, id, v)
	}
}

// Player controls the Lavalink player of one guild.
type Player struct {
	node    *Node
	guildID snowflake.ID
}

// Player returns the player handle of guildID.
func (n *Node) Player(guildID snowflake.ID) *Player {
	return &Player{node: n, guildID: guildID}
}

// Play starts t, replacing whatever is playing. Tracks without an encoded handle are
// resolved by the node from their identifier.
func (p *Player) Play(ctx context.Context, t track.Track) (track.Track, error) {
	upd := &updateTrackJSON{}
	if t.Encoded != "" {
		upd.Encoded = &t.Encoded
	} else {
		upd.Identifier = t.Identifier()
	}
	paused := false

	res, err := p.node.updatePlayer(ctx, p.guildID, updatePlayerJSON{Track: upd, Paused: &paused}, false)
	if err != nil {
		return t, mark(errors.Wrapf(err, "failed to play %s", t))
	}
	if res.Track == nil {
		return t, errors.Mark(errors.Newf("no playable track for %s", t.Identifier()), playback.ErrPlayback)
	}

	out := t
	out.Encoded = res.Track.Encoded
	if out.Duration == 0 && !res.Track.Info.IsStream {
		out.Duration = time.Duration(res.Track.Info.Length) * time.Millisecond
	}
	return out, nil
}

// Pause pauses or resumes playback.
func (p *Player) Pause(ctx context.Context, paused bool) error {
	_, err := p.node.updatePlayer(ctx, p.guildID, updatePlayerJSON{Paused: &paused}, false)
	return mark(err)
}

// Seek moves the playing track to position.
func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	ms := position.Milliseconds()
	_, err := p.node.updatePlayer(ctx, p.guildID, updatePlayerJSON{Position: &ms}, false)
	return mark(err)
}

// SetVolume sets the player volume (0-1000).
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	_, err := p.node.updatePlayer(ctx, p.guildID, updatePlayerJSON{Volume: &volume}, false)
	return mark(err)
}

// Stop ends the current track. The player and its voice connection stay up.
func (p *Player) Stop(ctx context.Context) error {
	_, err := p.node.updatePlayer(ctx, p.guildID, updatePlayerJSON{Track: &stopTrackJSON{}}, false)
	return mark(err)
}

// Destroy removes the guild player together with its voice connection on the node.
func (p *Player) Destroy(ctx context.Context) error {
	return mark(p.node.destroyPlayer(ctx, p.guildID))
}

var _ playback.Player = (*Player)(nil)

var _ playback.Backend = (*Node)(nil)
