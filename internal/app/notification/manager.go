// Package notification keeps one "now playing" message per guild up to date.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
)

// DefaultSendTimeout bounds each chat API call.
const DefaultSendTimeout = 5 * time.Second

// Sender posts and deletes chat messages.
type Sender interface {
	Send(ctx context.Context, channelID snowflake.ID, content string) (snowflake.ID, error)
	Delete(ctx context.Context, channelID, messageID snowflake.ID) error
}

// message is the last now-playing message posted in a guild.
type message struct {
	channelID  snowflake.ID
	messageID  snowflake.ID
	sequenceNo uint64
}

type slot struct {
	mu   sync.Mutex // Serializes publish and clear per guild
	last *message
}

// Manager remembers the last now-playing message per guild and replaces it on every publish.
type Manager struct {
	sender  Sender
	timeout time.Duration

	mu    sync.Mutex
	slots map[snowflake.ID]*slot

	sequenceNoMu sync.Mutex
	sequenceNo   uint64
}

// NewManager creates a new notification manager.
func NewManager(sender Sender, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Manager{
		sender:  sender,
		timeout: timeout,
		slots:   make(map[snowflake.ID]*slot),
	}
}

func (m *Manager) slot(guildID snowflake.ID) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[guildID]
	if !ok {
		s = &slot{}
		m.slots[guildID] = s
	}
	return s
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// PublishNowPlaying deletes the stale message of the guild, then posts one for t in the
// session's notify channel. Failures are logged and swallowed.
func (m *Manager) PublishNowPlaying(ctx context.Context, sess *session.Session, t track.Track) {
	if sess.NotifyChannelID == 0 {
		return
	}
	s := m.slot(sess.GuildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.deleteLocked(ctx, sess.GuildID, s)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	id, err := m.sender.Send(sctx, sess.NotifyChannelID, Format(t, len(sess.Queue)))
	if err != nil {
		zlog.Warn().Err(err).Msgf("notification: failed to send now playing, guild=%s channel=%s", sess.GuildID, sess.NotifyChannelID)
		return
	}
	s.last = &message{channelID: sess.NotifyChannelID, messageID: id, sequenceNo: m.NextSequenceNo()}
	zlog.Debug().Msgf("notification: now playing sent, guild=%s message=%s seq=%d", sess.GuildID, id, s.last.sequenceNo)
}

// ClearNowPlaying deletes the guild's last now-playing message, if any.
func (m *Manager) ClearNowPlaying(ctx context.Context, guildID snowflake.ID) {
	m.mu.Lock()
	s, ok := m.slots[guildID]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m.deleteLocked(ctx, guildID, s)
}

func (m *Manager) deleteLocked(ctx context.Context, guildID snowflake.ID, s *slot) {
	if s.last == nil {
		return
	}
	last := s.last
	s.last = nil

	// Teardown contexts may already be cancelled; the delete must still go out.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	if err := m.sender.Delete(dctx, last.channelID, last.messageID); err != nil {
		zlog.Debug().Err(err).Msgf("notification: failed to delete stale message, guild=%s message=%s", guildID, last.messageID)
	}
}

// LastMessage returns the ID of the guild's current now-playing message.
func (m *Manager) LastMessage(guildID snowflake.ID) (snowflake.ID, bool) {
	m.mu.Lock()
	s, ok := m.slots[guildID]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return 0, false
	}
	return s.last.messageID, true
}

// Format renders the now-playing message for t.
func Format(t track.Track, queued int) string {
	var b strings.Builder
	b.WriteString("Now playing: **")
	b.WriteString(t.Title)
	b.WriteString("**")
	if t.Author != "" {
		b.WriteString(" by ")
		b.WriteString(t.Author)
	}
	if t.IsStream() {
		b.WriteString(" (live)")
	} else {
		fmt.Fprintf(&b, " (%s)", formatDuration(t.Duration))
	}
	if queued > 0 {
		fmt.Fprintf(&b, "\nUp next: %d in queue", queued)
	}
	if t.URI != "" {
		b.WriteString("\n<")
		b.WriteString(t.URI)
		b.WriteString(">")
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
