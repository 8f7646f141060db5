package playback

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
)

const maxVolume = 1000

// Status is a point-in-time view of a controller.
type Status struct {
	GuildID       string `json:"guild_id"`
	State         string `json:"state"`
	Current       string `json:"current,omitempty"`
	QueueLength   int    `json:"queue_length"`
	HistoryLength int    `json:"history_length"`
	Repeat        string `json:"repeat"`
	AutoRecommend bool   `json:"auto_recommend"`
}

// Status returns a snapshot for display.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		GuildID:       c.sess.GuildID.String(),
		State:         c.state.String(),
		QueueLength:   len(c.sess.Queue),
		HistoryLength: c.sess.History.Len(),
		Repeat:        c.sess.Repeat.String(),
		AutoRecommend: c.sess.AutoRecommend,
	}
	if c.sess.Current != nil {
		st.Current = c.sess.Current.String()
	}
	return st
}

// Enqueue appends tracks and starts playback when nothing is playing.
// A recommendation still being looked up is abandoned in favour of the queue.
func (c *Controller) Enqueue(ctx context.Context, tracks ...track.Track) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return ErrClosed
	}
	c.sess.Enqueue(tracks...)

	start := c.state == StateIdle || (c.state == StateTransitioning && c.recCancel != nil)
	if !start {
		c.mu.Unlock()
		return nil
	}
	gen := c.beginTransitionLocked()
	c.mu.Unlock()

	c.continuePlayback(ctx, gen)
	return nil
}

// Skip ends the current track and continues as if it had finished, without repeating it.
func (c *Controller) Skip(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return ErrClosed
	case StatePlaying, StatePaused:
	default:
		c.mu.Unlock()
		return ErrNotPlaying
	}
	// Nothing replaces the track until a recommendation arrives, so silence it now.
	halt := len(c.sess.Queue) == 0 && c.sess.AutoRecommend && c.deps.Recommender != nil
	gen := c.beginTransitionLocked()
	c.mu.Unlock()

	zlog.Info().Msgf("playback: skip, guild=%s", c.sess.GuildID)
	if halt {
		if err := c.deps.Player.Stop(ctx); err != nil {
			zlog.Debug().Msgf("playback: stop on skip, guild=%s error=%v", c.sess.GuildID, err)
		}
	}
	c.continuePlayback(ctx, gen)
	return nil
}

// Pause pauses the current playback.
func (c *Controller) Pause(ctx context.Context) error {
	return c.setPaused(ctx, true)
}

// Resume resumes paused playback.
func (c *Controller) Resume(ctx context.Context) error {
	return c.setPaused(ctx, false)
}

func (c *Controller) setPaused(ctx context.Context, paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		return ErrClosed
	}
	if c.sess.Current == nil {
		return ErrNoTrack
	}
	if paused && c.state != StatePlaying {
		return ErrNotPlaying
	}
	if !paused && c.state != StatePaused {
		return ErrNotPaused
	}

	if err := c.deps.Player.Pause(ctx, paused); err != nil {
		return errors.Wrap(err, "failed to change pause state")
	}
	if paused {
		c.state = StatePaused
	} else {
		c.state = StatePlaying
	}
	return nil
}

// Seek moves the playhead of the current track, clamped to its duration.
func (c *Controller) Seek(ctx context.Context, position time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying && c.state != StatePaused {
		return ErrNotPlaying
	}
	cur := c.sess.Current
	if cur == nil {
		return ErrNoTrack
	}
	if cur.IsStream() {
		return errors.New("cannot seek a live stream")
	}
	if position < 0 {
		position = 0
	}
	if position > cur.Duration {
		position = cur.Duration
	}
	return errors.Wrap(c.deps.Player.Seek(ctx, position), "failed to seek")
}

// SetVolume sets the backend volume, clamped to [0, 1000].
func (c *Controller) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > maxVolume {
		volume = maxVolume
	}
	if c.State() == StateDisconnected {
		return ErrClosed
	}
	return errors.Wrap(c.deps.Player.SetVolume(ctx, volume), "failed to set volume")
}

// SetRepeat changes the repeat mode.
func (c *Controller) SetRepeat(mode session.RepeatMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess.Repeat = mode
}

// SetAutoRecommend toggles automatic continuation when the queue runs dry.
func (c *Controller) SetAutoRecommend(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess.AutoRecommend = enabled
}

// SetNativeContinuation hands continuation over to the backend's own autoplay.
func (c *Controller) SetNativeContinuation(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess.NativeContinuation = enabled
}

// Stop tears the session down: playback stops, the now-playing message is cleared
// and the bot leaves voice. In-flight recommendations are discarded.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.closeLocked()
	c.mu.Unlock()

	c.release(ctx, "stopped", true)
	return nil
}

// Abandon tears the session down after the voice connection is gone for good.
// Unlike Stop it leaves voice state alone.
func (c *Controller) Abandon(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.closeLocked()
	c.mu.Unlock()

	c.release(ctx, "voice lost", false)
}
