// Package discord connects the bot to the Discord gateway. It joins and leaves voice
// channels, forwards the bot's own voice updates and posts notification messages.
package discord

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"
)

// DefaultJoinTimeout bounds the wait for the gateway to confirm a voice join.
const DefaultJoinTimeout = 10 * time.Second

// Handlers receive the bot's own voice updates. Nil handlers are skipped.
type Handlers struct {
	// VoiceState is called when the bot's voice channel changes from before to after.
	VoiceState func(ctx context.Context, guildID snowflake.ID, before, after *snowflake.ID, sessionID string)
	// VoiceServer is called when Discord assigns a voice server to the guild.
	VoiceServer func(ctx context.Context, guildID snowflake.ID, token string, endpoint *string)
}

// Config represents Discord bot configuration.
type Config struct {
	Token       string
	JoinTimeout time.Duration
	HTTPClient  *http.Client
}

// Bot is a gateway connection limited to guild and voice state events.
type Bot struct {
	client      *bot.Client
	joinTimeout time.Duration

	mu       sync.Mutex
	handlers Handlers
	waiters  *waiters

	// Replaced in tests.
	updateVoiceState func(ctx context.Context, guildID snowflake.ID, channelID *snowflake.ID) error
	selfChannel      func(guildID snowflake.ID) (snowflake.ID, bool)
}

// New creates a bot. The gateway is not opened until Open is called.
func New(cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	b := newBot(cfg.JoinTimeout)
	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildVoiceStates,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagVoiceStates),
		),
		bot.WithEventListenerFunc(b.onVoiceStateUpdate),
		bot.WithEventListenerFunc(b.onVoiceServerUpdate),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(httpClient),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord client")
	}
	b.client = client
	b.updateVoiceState = func(ctx context.Context, guildID snowflake.ID, channelID *snowflake.ID) error {
		return client.UpdateVoiceState(ctx, guildID, channelID, false, true)
	}
	b.selfChannel = func(guildID snowflake.ID) (snowflake.ID, bool) {
		vs, ok := client.Caches.VoiceState(guildID, client.ID())
		if !ok || vs.ChannelID == nil {
			return 0, false
		}
		return *vs.ChannelID, true
	}
	return b, nil
}

func newBot(joinTimeout time.Duration) *Bot {
	return &Bot{
		joinTimeout: joinTimeout,
		waiters:     newWaiters(),
	}
}

// SetHandlers replaces the voice update handlers.
func (b *Bot) SetHandlers(h Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = h
}

func (b *Bot) currentHandlers() Handlers {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers
}

// UserID returns the bot's user ID.
func (b *Bot) UserID() snowflake.ID {
	return b.client.ID()
}

// Open connects to the gateway.
func (b *Bot) Open(ctx context.Context) error {
	if err := b.client.OpenGateway(ctx); err != nil {
		return errors.Wrap(err, "failed to open discord gateway")
	}
	zlog.Info().Msgf("discord: gateway opened, user=%s", b.client.ID())
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close(ctx context.Context) {
	b.client.Close(ctx)
	zlog.Info().Msg("discord: gateway closed")
}

func (b *Bot) onVoiceStateUpdate(e *events.GuildVoiceStateUpdate) {
	if e.VoiceState.UserID != e.Client().ID() {
		return
	}
	b.handleSelfVoiceState(context.Background(), e.VoiceState.GuildID, e.OldVoiceState.ChannelID, e.VoiceState.ChannelID, e.VoiceState.SessionID)
}

func (b *Bot) handleSelfVoiceState(ctx context.Context, guildID snowflake.ID, before, after *snowflake.ID, sessionID string) {
	zlog.Debug().Msgf("discord: voice state, guild=%s before=%v after=%v", guildID, fmtChannel(before), fmtChannel(after))

	h := b.currentHandlers()
	if h.VoiceState != nil {
		h.VoiceState(ctx, guildID, before, after, sessionID)
	}

	// Handlers run first so the audio backend has the voice session before Join returns.
	if after != nil {
		b.waiters.resolve(guildID, *after)
	}
}

func (b *Bot) onVoiceServerUpdate(e *events.VoiceServerUpdate) {
	zlog.Debug().Msgf("discord: voice server, guild=%s", e.GuildID)
	h := b.currentHandlers()
	if h.VoiceServer != nil {
		h.VoiceServer(context.Background(), e.GuildID, e.Token, e.Endpoint)
	}
}

func fmtChannel(id *snowflake.ID) string {
	if id == nil {
		return "none"
	}
	return id.String()
}
