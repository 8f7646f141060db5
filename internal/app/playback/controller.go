package playback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
)

// Player is the per-guild audio backend.
type Player interface {
	// Play loads and starts t, returning it with its backend handle resolved.
	Play(ctx context.Context, t track.Track) (track.Track, error)
	Pause(ctx context.Context, paused bool) error
	Seek(ctx context.Context, position time.Duration) error
	SetVolume(ctx context.Context, volume int) error
	// Stop ends the current track and keeps the voice connection.
	Stop(ctx context.Context) error
	// Destroy releases the backend player and its voice connection.
	Destroy(ctx context.Context) error
}

// Recommender picks a continuation track. A nil result means nothing was found.
type Recommender interface {
	Recommend(ctx context.Context, sess *session.Session) *track.Track
}

// Notifier publishes and clears the "now playing" message of a guild.
type Notifier interface {
	PublishNowPlaying(ctx context.Context, sess *session.Session, t track.Track)
	ClearNowPlaying(ctx context.Context, guildID snowflake.ID)
}

// Voice disconnects a guild's voice connection deliberately.
type Voice interface {
	Disconnect(ctx context.Context, guildID snowflake.ID) error
}

// Searcher queries one specific catalog source.
type Searcher interface {
	SearchWith(ctx context.Context, prefix, query string) ([]track.Track, error)
}

// Deps are the collaborators of a Controller. Only Player is required.
type Deps struct {
	Player      Player
	Recommender Recommender
	Notifier    Notifier
	Voice       Voice
	Searcher    Searcher
	OnTeardown  func(guildID snowflake.ID)
}

// Config holds controller configuration.
type Config struct {
	IdleLeave        bool          // Disconnect once nothing is left to play
	SecondaryPrefix  string        // Catalog re-searched when a source is unsupported
	RecommendTimeout time.Duration // Default 30s
	CommandTimeout   time.Duration // Backend calls made from background work, default 10s
}

func (c Config) withDefaults() Config {
	if c.RecommendTimeout <= 0 {
		c.RecommendTimeout = 30 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Second
	}
	return c
}

// Controller is the lifecycle state machine of one session.
// Backend events and control commands may arrive from any goroutine.
type Controller struct {
	mu sync.Mutex

	sess       *session.Session
	state      State
	pending    *track.Track // Track handed to the backend but not started yet
	researched *track.Track // Replacement found by the last re-search
	generation uint64       // Bumped on every transition; stale async results compare against it
	recCancel  context.CancelFunc

	deps   Deps
	config Config

	// Lifetime, cancelled on teardown
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// NewController creates a controller for sess in the Idle state.
func NewController(sess *session.Session, deps Deps, config Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		sess:   sess,
		state:  StateIdle,
		deps:   deps,
		config: config.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// GuildID returns the guild the controller serves.
func (c *Controller) GuildID() snowflake.ID {
	return c.sess.GuildID
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the session.
func (c *Controller) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Clone()
}

// Done is closed once the controller is torn down.
func (c *Controller) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Wait blocks until background recommendation work has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// HandleEvent dispatches a backend event.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventTrackStarted:
		c.HandleTrackStarted(ctx, ev.Track)
	case EventTrackEnded:
		c.HandleTrackEnded(ctx, ev.Track, ev.Reason)
	case EventTrackException:
		c.HandleTrackException(ctx, ev.Track, ev.Err)
	}
}

// HandleTrackStarted records the track to history and publishes it.
func (c *Controller) HandleTrackStarted(ctx context.Context, t track.Track) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}

	started := t
	if c.pending != nil {
		// One load is in flight at a time, so the start belongs to it.
		started = *c.pending
		if started.Encoded == "" {
			started.Encoded = t.Encoded
		}
		c.pending = nil
	}
	c.cancelRecommendLocked()
	c.sess.Current = &started
	c.sess.History.Append(started)
	c.state = StatePlaying
	snap := c.sess.Clone()
	c.mu.Unlock()

	zlog.Info().Msgf("playback: track started, guild=%s track=%q", c.sess.GuildID, started.String())
	if c.deps.Notifier != nil {
		c.deps.Notifier.PublishNowPlaying(ctx, snap, started)
	}
}

// HandleTrackEnded continues playback after a track ends.
func (c *Controller) HandleTrackEnded(ctx context.Context, t track.Track, reason EndReason) {
	if reason == EndReplaced {
		zlog.Debug().Msgf("playback: track replaced, guild=%s track=%q", c.sess.GuildID, t.String())
		return
	}

	c.mu.Lock()
	ended, ok := c.expectedLocked(t)
	if !ok {
		c.mu.Unlock()
		zlog.Debug().Msgf("playback: stale track end ignored, guild=%s track=%q reason=%s", c.sess.GuildID, t.String(), reason)
		return
	}
	if c.sess.NativeContinuation {
		c.mu.Unlock()
		zlog.Debug().Msgf("playback: deferring to native continuation, guild=%s", c.sess.GuildID)
		return
	}

	if reason == EndFinished {
		switch c.sess.Repeat {
		case session.RepeatTrack:
			c.sess.Queue = append([]track.Track{ended}, c.sess.Queue...)
		case session.RepeatQueue:
			c.sess.Enqueue(ended)
		}
	}
	gen := c.beginTransitionLocked()
	c.mu.Unlock()

	zlog.Debug().Msgf("playback: track ended, guild=%s track=%q reason=%s", c.sess.GuildID, ended.String(), reason)
	c.continuePlayback(ctx, gen)
}

// HandleTrackException tries the secondary source once for unsupported sources,
// otherwise moves on as if the track had ended.
func (c *Controller) HandleTrackException(ctx context.Context, t track.Track, cause error) {
	c.mu.Lock()
	failed, ok := c.expectedLocked(t)
	if !ok {
		c.mu.Unlock()
		return
	}
	retry := errors.Is(cause, ErrSourceUnsupported) &&
		c.deps.Searcher != nil &&
		c.config.SecondaryPrefix != "" &&
		(c.researched == nil || !sameTrack(*c.researched, failed))
	gen := c.beginTransitionLocked()
	c.mu.Unlock()

	zlog.Warn().Msgf("playback: track failed, guild=%s track=%q error=%v", c.sess.GuildID, failed.String(), cause)

	if retry && c.research(ctx, gen, failed) {
		return
	}
	if err := c.deps.Player.Stop(ctx); err != nil {
		zlog.Debug().Msgf("playback: stop after failure, guild=%s error=%v", c.sess.GuildID, err)
	}
	c.continuePlayback(ctx, gen)
}

// research looks the failed track up on the secondary source and plays the first other hit.
func (c *Controller) research(ctx context.Context, gen uint64, failed track.Track) bool {
	q := strings.TrimSpace(failed.Title + " " + failed.Author)
	results, err := c.deps.Searcher.SearchWith(ctx, c.config.SecondaryPrefix, q)
	if err != nil {
		zlog.Warn().Msgf("playback: re-search failed, guild=%s query=%q error=%v", c.sess.GuildID, q, err)
		return false
	}
	for _, r := range results {
		if sameTrack(r, failed) {
			continue
		}
		c.mu.Lock()
		replacement := r
		c.researched = &replacement
		c.mu.Unlock()

		zlog.Info().Msgf("playback: re-search hit, guild=%s source=%s track=%q", c.sess.GuildID, c.config.SecondaryPrefix, r.String())
		return c.play(ctx, gen, r)
	}
	return false
}

// continuePlayback plays the next queued track, starts a recommendation, or finishes.
func (c *Controller) continuePlayback(ctx context.Context, gen uint64) {
	for {
		c.mu.Lock()
		if c.generation != gen || c.state == StateDisconnected {
			c.mu.Unlock()
			return
		}
		next, ok := c.sess.Dequeue()
		if !ok {
			if c.sess.AutoRecommend && c.deps.Recommender != nil {
				c.startRecommendLocked(gen)
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			c.finish(ctx, gen)
			return
		}
		c.mu.Unlock()

		if c.play(ctx, gen, next) {
			return
		}
	}
}

// play hands t to the backend. It reports false only when the backend refused the track.
func (c *Controller) play(ctx context.Context, gen uint64, t track.Track) bool {
	c.mu.Lock()
	if c.generation != gen || c.state == StateDisconnected {
		c.mu.Unlock()
		return true
	}
	c.pending = &t
	c.mu.Unlock()

	resolved, err := c.deps.Player.Play(ctx, t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.state == StateDisconnected {
		return true
	}
	if err != nil {
		c.pending = nil
		zlog.Warn().Msgf("playback: play failed, guild=%s track=%q error=%v", c.sess.GuildID, t.String(), err)
		return false
	}
	if c.pending != nil {
		c.pending = &resolved
	} else if c.sess.Current != nil && c.sess.Current.Encoded == "" {
		c.sess.Current.Encoded = resolved.Encoded
	}
	return true
}

func (c *Controller) startRecommendLocked(gen uint64) {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.RecommendTimeout)
	c.recCancel = cancel
	snap := c.sess.Clone()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		pick := c.deps.Recommender.Recommend(ctx, snap)
		c.applyRecommendation(gen, pick)
	}()
}

// applyRecommendation plays pick only if the session is still waiting for it.
func (c *Controller) applyRecommendation(gen uint64, pick *track.Track) {
	c.mu.Lock()
	if c.state != StateTransitioning || c.generation != gen {
		c.mu.Unlock()
		zlog.Debug().Msgf("playback: discarding stale recommendation, guild=%s", c.sess.GuildID)
		return
	}
	c.recCancel = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.CommandTimeout)
	defer cancel()

	if pick == nil {
		zlog.Info().Msgf("playback: nothing to continue with, guild=%s", c.sess.GuildID)
		c.finish(ctx, gen)
		return
	}
	if !c.play(ctx, gen, *pick) {
		c.finish(ctx, gen)
	}
}

// finish handles an exhausted queue: leave voice or idle in place.
func (c *Controller) finish(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.config.IdleLeave {
		c.closeLocked()
		c.mu.Unlock()
		c.release(ctx, "queue exhausted", true)
		return
	}
	c.state = StateIdle
	c.sess.Current = nil
	c.pending = nil
	c.mu.Unlock()

	zlog.Info().Msgf("playback: idle, guild=%s", c.sess.GuildID)
	// A skipped track is still audible at this point.
	if err := c.deps.Player.Stop(ctx); err != nil {
		zlog.Debug().Msgf("playback: stop on idle, guild=%s error=%v", c.sess.GuildID, err)
	}
	if c.deps.Notifier != nil {
		c.deps.Notifier.ClearNowPlaying(ctx, c.sess.GuildID)
	}
}

// closeLocked moves to Disconnected and invalidates all in-flight work.
func (c *Controller) closeLocked() {
	c.state = StateDisconnected
	c.generation++
	c.cancelRecommendLocked()
	c.sess.Current = nil
	c.sess.Queue = nil
	c.pending = nil
	c.cancel()
}

// release tears down the backend and UI state after closeLocked, leaving voice when asked.
func (c *Controller) release(ctx context.Context, reason string, leave bool) {
	guildID := c.sess.GuildID
	zlog.Info().Msgf("playback: teardown, guild=%s reason=%s", guildID, reason)

	if err := c.deps.Player.Destroy(ctx); err != nil {
		zlog.Debug().Msgf("playback: destroy during teardown, guild=%s error=%v", guildID, err)
	}
	if c.deps.Notifier != nil {
		c.deps.Notifier.ClearNowPlaying(ctx, guildID)
	}
	if leave && c.deps.Voice != nil {
		if err := c.deps.Voice.Disconnect(ctx, guildID); err != nil {
			zlog.Warn().Msgf("playback: voice disconnect failed, guild=%s error=%v", guildID, err)
		}
	}
	if c.deps.OnTeardown != nil {
		c.deps.OnTeardown(guildID)
	}
}

func (c *Controller) beginTransitionLocked() uint64 {
	c.cancelRecommendLocked()
	c.generation++
	c.state = StateTransitioning
	return c.generation
}

func (c *Controller) cancelRecommendLocked() {
	if c.recCancel != nil {
		c.recCancel()
		c.recCancel = nil
	}
}

// expectedLocked resolves an end or failure event to the track the controller is tracking.
func (c *Controller) expectedLocked(t track.Track) (track.Track, bool) {
	if c.state == StateDisconnected {
		return track.Track{}, false
	}
	if c.pending != nil {
		if sameTrack(*c.pending, t) {
			p := *c.pending
			c.pending = nil
			return p, true
		}
		return track.Track{}, false
	}
	if (c.state == StatePlaying || c.state == StatePaused) && c.sess.Current != nil && sameTrack(*c.sess.Current, t) {
		return *c.sess.Current, true
	}
	return track.Track{}, false
}

// sameTrack compares backend handles when both are known, otherwise identifiers.
func sameTrack(a, b track.Track) bool {
	if a.Encoded != "" && b.Encoded != "" {
		return a.Encoded == b.Encoded
	}
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.URI != "" && a.URI == b.URI
}
