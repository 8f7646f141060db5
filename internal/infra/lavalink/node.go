package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/playback"
)

// ClientName is sent in the Client-Name header.
const ClientName = "encore/1.0"

var (
	// ErrNotConnected is returned by REST calls made before the node sent ready.
	ErrNotConnected = errors.New("lavalink node not connected")
)

// Config holds node connection settings.
type Config struct {
	Host        string
	Port        int
	Password    string
	Secure      bool
	UserID      snowflake.ID  // Bot user ID
	HTTPTimeout time.Duration // REST timeout, default 10s
	ReadyWait   time.Duration // How long Connect waits for the ready op, default 10s
}

// EventHandler receives mapped lifecycle events.
type EventHandler func(ev playback.Event)

// Node is a connection to one Lavalink server.
type Node struct {
	config     Config
	httpClient *http.Client
	dialer     *websocket.Dialer
	onEvent    EventHandler

	mu        sync.RWMutex
	conn      *websocket.Conn
	sessionID string
	connected bool
	voice     map[snowflake.ID]*voiceState
	done      chan struct{}
}

// Option configures a Node.
type Option func(*Node)

// WithHTTPClient overrides the REST client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Node) { n.httpClient = c }
}

// WithEventHandler sets the lifecycle event callback.
func WithEventHandler(h EventHandler) Option {
	return func(n *Node) { n.onEvent = h }
}

// NewNode creates a node. Call Connect to open the event stream.
func NewNode(config Config, opts ...Option) *Node {
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 10 * time.Second
	}
	if config.ReadyWait <= 0 {
		config.ReadyWait = 10 * time.Second
	}
	n := &Node{
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: config.HTTPTimeout},
		voice:      make(map[snowflake.ID]*voiceState),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetEventHandler replaces the lifecycle event callback.
func (n *Node) SetEventHandler(h EventHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onEvent = h
}

func (n *Node) baseURL(scheme string) string {
	if n.config.Secure {
		scheme += "s"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, n.config.Host, n.config.Port)
}

// Connect dials the websocket and blocks until the node reports ready.
func (n *Node) Connect(ctx context.Context) error {
	headers := http.Header{}
	headers.Set("Authorization", n.config.Password)
	headers.Set("User-Id", n.config.UserID.String())
	headers.Set("Client-Name", ClientName)

	url := n.baseURL("ws") + "/v4/websocket"
	conn, resp, err := n.dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "failed to dial lavalink: status=%d", resp.StatusCode)
		}
		return errors.Wrap(err, "failed to dial lavalink")
	}

	ready := make(chan string, 1)
	done := make(chan struct{})

	n.mu.Lock()
	n.conn = conn
	n.done = done
	n.mu.Unlock()

	go n.readLoop(conn, ready, done)

	wait := time.NewTimer(n.config.ReadyWait)
	defer wait.Stop()

	select {
	case sid := <-ready:
		zlog.Info().Msgf("lavalink: node ready, session_id=%s, host=%s", sid, n.config.Host)
		return nil
	case <-done:
		return errors.New("lavalink connection closed before ready")
	case <-wait.C:
		_ = conn.Close()
		return errors.New("timed out waiting for lavalink ready")
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}

// Connected reports whether the node has an open, ready session.
func (n *Node) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

// SessionID returns the current session ID, empty before ready.
func (n *Node) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

// Reconnect closes any existing connection and connects again.
func (n *Node) Reconnect(ctx context.Context) error {
	n.closeConn()
	if err := n.Connect(ctx); err != nil {
		return err
	}
	n.resendVoice(ctx)
	return nil
}

// Close closes the websocket.
func (n *Node) Close() error {
	n.closeConn()
	return nil
}

func (n *Node) closeConn() {
	n.mu.Lock()
	conn, done := n.conn, n.done
	n.conn = nil
	n.connected = false
	n.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
	if done != nil {
		<-done
	}
}

func (n *Node) readLoop(conn *websocket.Conn, ready chan<- string, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			n.mu.Lock()
			if n.conn == conn || n.conn == nil {
				n.connected = false
			}
			n.mu.Unlock()
			zlog.Warn().Err(err).Msg("lavalink: websocket closed")
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			zlog.Debug().Err(err).Msg("lavalink: failed to decode message")
			continue
		}
		n.handleMessage(&msg, ready)
	}
}

func (n *Node) handleMessage(msg *message, ready chan<- string) {
	switch msg.Op {
	case "ready":
		n.mu.Lock()
		n.sessionID = msg.SessionID
		n.connected = true
		n.mu.Unlock()
		select {
		case ready <- msg.SessionID:
		default:
		}
	case "playerUpdate":
		if msg.State != nil {
			zlog.Trace().Msgf("lavalink: player update, guild=%s, position=%d, connected=%v",
				msg.GuildID, msg.State.Position, msg.State.Connected)
		}
	case "stats":
		zlog.Trace().Msgf("lavalink: stats, players=%d, playing=%d", msg.Players, msg.PlayingPlayers)
	case "event":
		if ev, ok := mapEvent(msg); ok {
			n.mu.RLock()
			h := n.onEvent
			n.mu.RUnlock()
			if h != nil {
				h(ev)
			}
		}
	default:
		zlog.Debug().Msgf("lavalink: unknown op, op=%s", msg.Op)
	}
}

// mapEvent converts an event op into a lifecycle event. WebSocketClosedEvent is only logged;
// the voice supervisor owns the gateway side of voice drops.
func mapEvent(msg *message) (playback.Event, bool) {
	guildID, err := snowflake.Parse(msg.GuildID)
	if err != nil {
		zlog.Debug().Msgf("lavalink: event with invalid guild, guild=%s", msg.GuildID)
		return playback.Event{}, false
	}

	ev := playback.Event{GuildID: guildID}
	if msg.Track != nil {
		ev.Track = msg.Track.toTrack("")
	}

	switch msg.Type {
	case "TrackStartEvent":
		ev.Type = playback.EventTrackStarted
	case "TrackEndEvent":
		ev.Type = playback.EventTrackEnded
		ev.Reason = playback.EndReason(msg.Reason)
	case "TrackExceptionEvent":
		ev.Type = playback.EventTrackException
		ev.Err = classify(msg.Exception)
	case "TrackStuckEvent":
		ev.Type = playback.EventTrackException
		ev.Err = errors.Mark(errors.Newf("track stuck: threshold_ms=%d", msg.ThresholdMs), playback.ErrPlayback)
	case "WebSocketClosedEvent":
		zlog.Warn().Msgf("lavalink: voice websocket closed, guild=%s, code=%d, reason=%s", msg.GuildID, msg.Code, msg.Reason)
		return playback.Event{}, false
	default:
		zlog.Debug().Msgf("lavalink: unknown event, type=%s", msg.Type)
		return playback.Event{}, false
	}
	return ev, true
}
