// Package session owns the per-guild playback controllers of the process.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/catalog"
	"github.com/osa030/encore/internal/app/playback"
	domain "github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
)

var (
	ErrNoSession = errors.New("no session for guild")
	ErrNoResults = errors.New("no results")
)

// eventBuffer is the number of backend events queued per guild.
const eventBuffer = 64

// VoiceControl joins and leaves voice deliberately.
type VoiceControl interface {
	EnsureConnected(ctx context.Context, guildID, channelID snowflake.ID) error
	Disconnect(ctx context.Context, guildID snowflake.ID) error
}

// PlayerFactory returns the audio player of a guild.
type PlayerFactory func(guildID snowflake.ID) playback.Player

// Deps are the collaborators shared by every session.
type Deps struct {
	Players     PlayerFactory
	Voice       VoiceControl
	Recommender playback.Recommender
	Notifier    playback.Notifier
	Searcher    playback.Searcher
	Catalog     catalog.Catalog
}

// Config holds session defaults.
type Config struct {
	HistoryWindow    int
	AutoRecommend    bool
	IdleLeave        bool
	SecondaryPrefix  string
	RecommendTimeout time.Duration
	EventTimeout     time.Duration // Bound on handling one backend event, default 15s
}

// Manager creates a controller when a guild joins voice, routes backend events to it in
// order and forgets it on teardown.
type Manager struct {
	deps     Deps
	config   Config
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(deps Deps, config Config) *Manager {
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = domain.DefaultHistoryWindow
	}
	if config.EventTimeout <= 0 {
		config.EventTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:     deps,
		config:   config,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Join connects guildID to channelID and returns its controller, creating the session
// when the guild has none. notifyChannelID may be 0 to disable now-playing messages.
func (m *Manager) Join(ctx context.Context, guildID, channelID, notifyChannelID snowflake.ID) (*playback.Controller, error) {
	if m.deps.Voice != nil {
		if err := m.deps.Voice.EnsureConnected(ctx, guildID, channelID); err != nil {
			return nil, errors.Wrapf(err, "failed to join voice channel %s", channelID)
		}
	}

	e, created := m.registry.getOrCreate(guildID, func() *entry {
		return m.newEntry(guildID, notifyChannelID)
	})
	if !created {
		select {
		case <-e.ctrl.Done():
			// Torn down but not yet removed.
			m.registry.remove(guildID, e.ctrl)
			e, created = m.registry.getOrCreate(guildID, func() *entry {
				return m.newEntry(guildID, notifyChannelID)
			})
		default:
		}
	}
	if created {
		m.wg.Add(1)
		go m.run(e)
		zlog.Info().Msgf("session: created, guild=%s channel=%s", guildID, channelID)
	}
	return e.ctrl, nil
}

func (m *Manager) newEntry(guildID, notifyChannelID snowflake.ID) *entry {
	sess := domain.New(guildID, notifyChannelID, m.config.HistoryWindow)
	sess.AutoRecommend = m.config.AutoRecommend

	var player playback.Player
	if m.deps.Players != nil {
		player = m.deps.Players(guildID)
	}

	var voice playback.Voice
	if m.deps.Voice != nil {
		voice = m.deps.Voice
	}

	e := &entry{events: make(chan playback.Event, eventBuffer)}
	e.ctrl = playback.NewController(sess, playback.Deps{
		Player:      player,
		Recommender: m.deps.Recommender,
		Notifier:    m.deps.Notifier,
		Voice:       voice,
		Searcher:    m.deps.Searcher,
		OnTeardown: func(id snowflake.ID) {
			m.registry.remove(id, e.ctrl)
			zlog.Info().Msgf("session: removed, guild=%s", id)
		},
	}, playback.Config{
		IdleLeave:        m.config.IdleLeave,
		SecondaryPrefix:  m.config.SecondaryPrefix,
		RecommendTimeout: m.config.RecommendTimeout,
	})
	return e
}

// run feeds one guild's events to its controller until the controller is torn down.
func (m *Manager) run(e *entry) {
	defer m.wg.Done()
	for {
		select {
		case ev := <-e.events:
			ctx, cancel := context.WithTimeout(m.ctx, m.config.EventTimeout)
			e.ctrl.HandleEvent(ctx, ev)
			cancel()
		case <-e.ctrl.Done():
			e.ctrl.Wait()
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// HandleEvent routes a backend event to the guild's controller. Events for guilds without
// a session are dropped.
func (m *Manager) HandleEvent(ev playback.Event) {
	e, ok := m.registry.get(ev.GuildID)
	if !ok {
		zlog.Debug().Msgf("session: event for unknown guild dropped, guild=%s type=%s", ev.GuildID, ev.Type)
		return
	}
	select {
	case e.events <- ev:
	case <-e.ctrl.Done():
	case <-m.ctx.Done():
	}
}

// Controller returns the guild's controller.
func (m *Manager) Controller(guildID snowflake.ID) (*playback.Controller, error) {
	ctrl, ok := m.registry.Get(guildID)
	if !ok {
		return nil, ErrNoSession
	}
	return ctrl, nil
}

// Play searches the catalog for query and enqueues the first result.
func (m *Manager) Play(ctx context.Context, guildID snowflake.ID, query string) (track.Track, error) {
	ctrl, err := m.Controller(guildID)
	if err != nil {
		return track.Track{}, err
	}
	if m.deps.Catalog == nil {
		return track.Track{}, errors.New("no catalog configured")
	}

	results, err := m.deps.Catalog.Search(ctx, query)
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "failed to search %q", query)
	}
	if len(results) == 0 {
		return track.Track{}, errors.Wrapf(ErrNoResults, "query %q", query)
	}

	t := results[0]
	if err := ctrl.Enqueue(ctx, t); err != nil {
		return track.Track{}, err
	}
	zlog.Info().Msgf("session: enqueued, guild=%s track=%q", guildID, t.String())
	return t, nil
}

// Leave stops the guild's session and leaves voice.
func (m *Manager) Leave(ctx context.Context, guildID snowflake.ID) error {
	if ctrl, ok := m.registry.Get(guildID); ok {
		return ctrl.Stop(ctx)
	}
	if m.deps.Voice != nil {
		return m.deps.Voice.Disconnect(ctx, guildID)
	}
	return nil
}

// OnVoiceGiveUp tears down the guild's session once its voice connection is lost for good.
func (m *Manager) OnVoiceGiveUp(guildID snowflake.ID, err error) {
	ctrl, ok := m.registry.Get(guildID)
	if !ok {
		return
	}
	zlog.Warn().Err(err).Msgf("session: voice lost, abandoning, guild=%s", guildID)
	ctx, cancel := context.WithTimeout(m.ctx, m.config.EventTimeout)
	defer cancel()
	ctrl.Abandon(ctx)
}

// Restore rejoins stored voice targets, typically at startup.
func (m *Manager) Restore(ctx context.Context, targets map[snowflake.ID]snowflake.ID) {
	for guildID, channelID := range targets {
		if _, err := m.Join(ctx, guildID, channelID, 0); err != nil {
			zlog.Warn().Err(err).Msgf("session: failed to restore, guild=%s channel=%s", guildID, channelID)
		}
	}
}

// Snapshot returns the status of every live session, ordered by guild.
func (m *Manager) Snapshot() []playback.Status {
	ctrls := m.registry.All()
	out := make([]playback.Status, 0, len(ctrls))
	for _, c := range ctrls {
		out = append(out, c.Status())
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	return m.registry.Count()
}

// Close abandons every session without clearing voice targets, so a restart can
// restore them, and waits for event workers to exit.
func (m *Manager) Close(ctx context.Context) {
	for _, c := range m.registry.All() {
		c.Abandon(ctx)
	}
	m.cancel()
	m.wg.Wait()
}
