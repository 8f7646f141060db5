package discord

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/voice"
)

// ErrJoinTimeout is returned when the gateway does not confirm a join in time.
var ErrJoinTimeout = errors.New("voice join not confirmed")

var _ voice.Connector = (*Bot)(nil)

// Join asks the gateway to move the bot into channelID and waits until the bot's voice
// state reports that channel.
func (b *Bot) Join(ctx context.Context, guildID, channelID snowflake.ID) error {
	if ch, ok := b.selfChannel(guildID); ok && ch == channelID {
		return nil
	}

	done, cancel := b.waiters.add(guildID, channelID)
	defer cancel()

	if err := b.updateVoiceState(ctx, guildID, &channelID); err != nil {
		return errors.Wrap(err, "failed to send voice state update")
	}

	timer := time.NewTimer(b.joinTimeout)
	defer timer.Stop()

	select {
	case <-done:
		zlog.Debug().Msgf("discord: join confirmed, guild=%s channel=%s", guildID, channelID)
		return nil
	case <-timer.C:
		return errors.Wrapf(ErrJoinTimeout, "guild=%s channel=%s after %v", guildID, channelID, b.joinTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave asks the gateway to disconnect the bot from voice in the guild.
func (b *Bot) Leave(ctx context.Context, guildID snowflake.ID) error {
	if err := b.updateVoiceState(ctx, guildID, nil); err != nil {
		return errors.Wrap(err, "failed to send voice state update")
	}
	return nil
}

// ConnectedChannel returns the voice channel the bot is in according to the cache.
func (b *Bot) ConnectedChannel(guildID snowflake.ID) (snowflake.ID, bool) {
	return b.selfChannel(guildID)
}

type waiter struct {
	id        uint64
	channelID snowflake.ID
	done      chan struct{}
}

// waiters tracks pending joins per guild.
type waiters struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[snowflake.ID][]*waiter
}

func newWaiters() *waiters {
	return &waiters{byID: make(map[snowflake.ID][]*waiter)}
}

// add registers a waiter for the bot entering channelID. cancel must be called once the
// caller stops waiting.
func (w *waiters) add(guildID, channelID snowflake.ID) (<-chan struct{}, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	wt := &waiter{id: w.nextID, channelID: channelID, done: make(chan struct{})}
	w.byID[guildID] = append(w.byID[guildID], wt)

	return wt.done, func() { w.remove(guildID, wt.id) }
}

// resolve releases every waiter of the guild expecting channelID.
func (w *waiters) resolve(guildID, channelID snowflake.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := w.byID[guildID]
	kept := pending[:0]
	for _, wt := range pending {
		if wt.channelID == channelID {
			close(wt.done)
			continue
		}
		kept = append(kept, wt)
	}
	if len(kept) == 0 {
		delete(w.byID, guildID)
		return
	}
	w.byID[guildID] = kept
}

func (w *waiters) remove(guildID snowflake.ID, id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := w.byID[guildID]
	for i, wt := range pending {
		if wt.id == id {
			w.byID[guildID] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	if len(w.byID[guildID]) == 0 {
		delete(w.byID, guildID)
	}
}

func (w *waiters) count(guildID snowflake.ID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byID[guildID])
}
