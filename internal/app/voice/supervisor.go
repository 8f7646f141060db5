// Package voice keeps each guild's voice connection on its intended channel.
package voice

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"
)

// ErrConnectionLost marks a voice connection that could not be recovered.
var ErrConnectionLost = errors.New("voice connection lost")

// DefaultBackoff is the wait before each reconnect attempt.
var DefaultBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second}

// Connector joins and leaves voice channels.
type Connector interface {
	// Join connects to channelID and returns once the connection is confirmed.
	Join(ctx context.Context, guildID, channelID snowflake.ID) error
	Leave(ctx context.Context, guildID snowflake.ID) error
	// ConnectedChannel returns the channel the bot is currently in.
	ConnectedChannel(guildID snowflake.ID) (snowflake.ID, bool)
}

// TargetStore persists the channel each guild should be connected to.
type TargetStore interface {
	Get(ctx context.Context, guildID snowflake.ID) (snowflake.ID, bool, error)
	Set(ctx context.Context, guildID, channelID snowflake.ID) error
	Clear(ctx context.Context, guildID snowflake.ID) error
}

type task struct {
	id     uint64
	cancel context.CancelFunc
}

// Supervisor reconnects involuntarily dropped voice connections with backoff.
type Supervisor struct {
	connector Connector
	store     TargetStore
	backoff   []time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	onGiveUp  func(guildID snowflake.ID, err error)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[snowflake.ID]*task
	nextID uint64
	wg     sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithBackoff replaces the backoff sequence.
func WithBackoff(backoff []time.Duration) Option {
	return func(s *Supervisor) {
		if len(backoff) > 0 {
			s.backoff = backoff
		}
	}
}

// WithSleep replaces the context-aware sleep used between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = sleep }
}

// WithGiveUp registers a callback run after the backoff sequence is exhausted.
func WithGiveUp(fn func(guildID snowflake.ID, err error)) Option {
	return func(s *Supervisor) { s.onGiveUp = fn }
}

// NewSupervisor creates a voice supervisor.
func NewSupervisor(connector Connector, store TargetStore, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		connector: connector,
		store:     store,
		backoff:   DefaultBackoff,
		sleep:     sleepContext,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[snowflake.ID]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureConnected records channelID as the guild's target and joins it.
func (s *Supervisor) EnsureConnected(ctx context.Context, guildID, channelID snowflake.ID) error {
	if err := s.store.Set(ctx, guildID, channelID); err != nil {
		return errors.Wrap(err, "failed to store voice target")
	}
	s.cancelTask(guildID)

	if ch, ok := s.connector.ConnectedChannel(guildID); ok && ch == channelID {
		return nil
	}
	if err := s.connector.Join(ctx, guildID, channelID); err != nil {
		return errors.Wrapf(err, "failed to join voice channel %s", channelID)
	}
	zlog.Info().Msgf("voice: connected, guild=%s channel=%s", guildID, channelID)
	return nil
}

// Disconnect clears the target first so the drop is not treated as a failure, then leaves.
func (s *Supervisor) Disconnect(ctx context.Context, guildID snowflake.ID) error {
	if err := s.store.Clear(ctx, guildID); err != nil {
		return errors.Wrap(err, "failed to clear voice target")
	}
	s.cancelTask(guildID)

	if err := s.connector.Leave(ctx, guildID); err != nil {
		return errors.Wrap(err, "failed to leave voice channel")
	}
	zlog.Info().Msgf("voice: disconnected, guild=%s", guildID)
	return nil
}

// OnConnectionStateChanged reacts to the bot's own voice state changing from before to after.
// A nil channel means not connected.
func (s *Supervisor) OnConnectionStateChanged(ctx context.Context, guildID snowflake.ID, before, after *snowflake.ID) {
	target, ok, err := s.store.Get(ctx, guildID)
	if err != nil {
		zlog.Warn().Msgf("voice: failed to read target, guild=%s error=%v", guildID, err)
		return
	}
	if !ok {
		return
	}

	switch {
	case after != nil:
		if *after != target {
			// Moved by someone else; follow the move.
			if err := s.store.Set(ctx, guildID, *after); err != nil {
				zlog.Warn().Msgf("voice: failed to update target, guild=%s error=%v", guildID, err)
				return
			}
			zlog.Info().Msgf("voice: moved, guild=%s from=%s to=%s", guildID, target, *after)
		}
	case before != nil && *before == target:
		zlog.Warn().Msgf("voice: connection dropped, guild=%s channel=%s", guildID, target)
		s.scheduleReconnect(guildID)
	}
}

// Reconnecting reports whether a reconnect task is running for the guild.
func (s *Supervisor) Reconnecting(guildID snowflake.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[guildID]
	return ok
}

// Close cancels every reconnect task and waits for them to exit.
func (s *Supervisor) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) scheduleReconnect(guildID snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if _, running := s.tasks[guildID]; running {
		zlog.Debug().Msgf("voice: reconnect already scheduled, guild=%s", guildID)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.nextID++
	t := &task{id: s.nextID, cancel: cancel}
	s.tasks[guildID] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.removeTask(guildID, t.id)
		defer cancel()
		s.reconnect(ctx, guildID)
	}()
}

func (s *Supervisor) reconnect(ctx context.Context, guildID snowflake.ID) {
	var lastErr error
	for i, d := range s.backoff {
		if err := s.sleep(ctx, d); err != nil {
			return
		}

		target, ok, err := s.store.Get(ctx, guildID)
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			return
		}
		if ch, connected := s.connector.ConnectedChannel(guildID); connected && ch == target {
			zlog.Info().Msgf("voice: already reconnected, guild=%s channel=%s", guildID, ch)
			return
		}

		if err := s.connector.Join(ctx, guildID, target); err != nil {
			if ctx.Err() != nil {
				return
			}
			lastErr = err
			zlog.Warn().Msgf("voice: reconnect failed, guild=%s attempt=%d/%d error=%v", guildID, i+1, len(s.backoff), err)
			continue
		}
		zlog.Info().Msgf("voice: reconnected, guild=%s channel=%s attempt=%d", guildID, target, i+1)
		return
	}

	if err := s.store.Clear(ctx, guildID); err != nil {
		zlog.Warn().Msgf("voice: failed to clear target, guild=%s error=%v", guildID, err)
	}
	zlog.Info().Msgf("voice: giving up reconnect, guild=%s", guildID)

	if s.onGiveUp != nil {
		if lastErr == nil {
			lastErr = errors.New("reconnect attempts exhausted")
		}
		s.onGiveUp(guildID, errors.Mark(lastErr, ErrConnectionLost))
	}
}

func (s *Supervisor) cancelTask(guildID snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[guildID]; ok {
		t.cancel()
		delete(s.tasks, guildID)
	}
}

func (s *Supervisor) removeTask(guildID snowflake.ID, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[guildID]; ok && t.id == id {
		delete(s.tasks, guildID)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
