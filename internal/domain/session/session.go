// Package session provides the PlaybackSession domain entity.
package session

import (
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"

	"github.com/osa030/encore/internal/domain/track"
)

// DefaultHistoryWindow is the history size used when none is configured.
const DefaultHistoryWindow = 30

// RepeatMode represents the repeat behaviour of a session.
type RepeatMode int

const (
	RepeatOff   RepeatMode = iota // Play through the queue once
	RepeatTrack                   // Replay the current track
	RepeatQueue                   // Re-append finished tracks to the queue
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatTrack:
		return "track"
	case RepeatQueue:
		return "queue"
	default:
		return "unknown"
	}
}

// ParseRepeatMode parses "off", "track" or "queue". Unknown values map to RepeatOff.
func ParseRepeatMode(s string) RepeatMode {
	switch strings.ToLower(s) {
	case "track":
		return RepeatTrack
	case "queue":
		return RepeatQueue
	default:
		return RepeatOff
	}
}

// Session represents the playback state of one guild's voice connection.
type Session struct {
	ID                 string       // UUID
	GuildID            snowflake.ID // Owning guild
	NotifyChannelID    snowflake.ID // Home channel for now playing messages
	Current            *track.Track // Track currently playing (nil when idle)
	Queue              []track.Track
	History            *History
	Repeat             RepeatMode
	AutoRecommend      bool
	NativeContinuation bool // Backend continues playback on its own
	CreatedAt          time.Time
}

// New creates a new session for a guild.
func New(guildID, notifyChannelID snowflake.ID, historyWindow int) *Session {
	return &Session{
		ID:              uuid.NewString(),
		GuildID:         guildID,
		NotifyChannelID: notifyChannelID,
		Queue:           make([]track.Track, 0),
		History:         NewHistory(historyWindow),
		Repeat:          RepeatOff,
		CreatedAt:       time.Now(),
	}
}

// Enqueue appends tracks to the pending queue.
func (s *Session) Enqueue(tracks ...track.Track) {
	s.Queue = append(s.Queue, tracks...)
}

// Dequeue removes and returns the head of the pending queue.
func (s *Session) Dequeue() (track.Track, bool) {
	if len(s.Queue) == 0 {
		return track.Track{}, false
	}
	next := s.Queue[0]
	s.Queue = s.Queue[1:]
	return next, true
}

// Clone returns a deep copy that can be read without holding the owner's lock.
func (s *Session) Clone() *Session {
	c := *s
	if s.Current != nil {
		cur := *s.Current
		c.Current = &cur
	}
	c.Queue = append([]track.Track(nil), s.Queue...)
	if s.History != nil {
		c.History = s.History.clone()
	}
	return &c
}
