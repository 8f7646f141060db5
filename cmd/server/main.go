// Package main provides the bot server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/encore/internal/app/catalog"
	"github.com/osa030/encore/internal/app/filter"
	"github.com/osa030/encore/internal/app/notification"
	"github.com/osa030/encore/internal/app/playback"
	"github.com/osa030/encore/internal/app/recommend"
	"github.com/osa030/encore/internal/app/session"
	"github.com/osa030/encore/internal/app/voice"
	"github.com/osa030/encore/internal/infra/config"
	"github.com/osa030/encore/internal/infra/discord"
	"github.com/osa030/encore/internal/infra/lavalink"
	"github.com/osa030/encore/internal/infra/logger"
	"github.com/osa030/encore/internal/infra/status"
	"github.com/osa030/encore/internal/infra/store"
)

var (
	app        = kingpin.New("encore-server", "encore music bot with automatic playback continuation")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Bootstrap logger until the config is known
	if err := logger.Init(logger.Config{Level: "info", Format: "console", Output: "stdout"}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		zlog.Fatal().Msgf("Invalid config: %v", err)
	}

	loggerConfig := logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stdout"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}

	// Run server (defer ensures shutdown steps run)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run wires the components and blocks until a shutdown signal or a fatal serve error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	targets, err := store.Open(cfg.Store.Path)
	if err != nil {
		return errors.Wrap(err, "failed to open voice target store")
	}
	defer func() {
		if err := targets.Close(); err != nil {
			zlog.Warn().Msgf("Failed to close store: %v", err)
		}
	}()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	bot, err := discord.New(discord.Config{
		Token:       cfg.Discord.Token,
		JoinTimeout: time.Duration(cfg.Voice.JoinTimeoutSec) * time.Second,
		HTTPClient:  httpClient,
	})
	if err != nil {
		return err
	}

	node := lavalink.NewNode(lavalink.Config{
		Host:        cfg.Lavalink.Host,
		Port:        cfg.Lavalink.Port,
		Password:    cfg.Lavalink.Password,
		Secure:      cfg.Lavalink.Secure,
		UserID:      bot.UserID(),
		HTTPTimeout: cfg.Lavalink.HTTPTimeout(),
	})

	cat, err := catalog.NewClientFromConfig(cfg, node, httpClient)
	if err != nil {
		return errors.Wrap(err, "failed to create catalog")
	}
	zlog.Info().Msgf("Catalog providers: %s", strings.Join(cat.Prefixes(), ", "))

	engine, err := recommend.NewEngineFromConfig(cfg, cat)
	if err != nil {
		return errors.Wrap(err, "failed to create recommendation engine")
	}

	notifier := notification.NewManager(bot, notification.DefaultSendTimeout)

	var sessions *session.Manager
	supervisor := voice.NewSupervisor(bot, targets,
		voice.WithBackoff(cfg.Voice.Backoff()),
		voice.WithGiveUp(func(guildID snowflake.ID, err error) {
			sessions.OnVoiceGiveUp(guildID, err)
		}),
	)

	sessions = session.NewManager(session.Deps{
		Players:     func(guildID snowflake.ID) playback.Player { return node.Player(guildID) },
		Voice:       supervisor,
		Recommender: engine,
		Notifier:    notifier,
		Searcher:    cat,
		Catalog:     cat,
	}, session.Config{
		HistoryWindow:    cfg.Recommend.HistoryWindow,
		AutoRecommend:    cfg.Session.AutoRecommendEnabled(),
		IdleLeave:        cfg.Session.IdleLeaveEnabled(),
		SecondaryPrefix:  cfg.Catalog.Secondary,
		RecommendTimeout: 3 * cfg.Recommend.Timeout(),
	})

	node.SetEventHandler(sessions.HandleEvent)
	bot.SetHandlers(discord.Handlers{
		VoiceState: func(ctx context.Context, guildID snowflake.ID, before, after *snowflake.ID, sessionID string) {
			node.OnVoiceStateUpdate(ctx, guildID, after, sessionID)
			supervisor.OnConnectionStateChanged(ctx, guildID, before, after)
		},
		VoiceServer: node.OnVoiceServerUpdate,
	})

	// The health monitor retries a failed first connect.
	if err := node.Connect(ctx); err != nil {
		zlog.Warn().Msgf("Audio backend not reachable yet: %v", err)
	}
	monitor := playback.NewMonitor(node, cfg.Lavalink.HealthInterval(), cfg.Lavalink.MaxReconnectAttempts)
	go monitor.Run(ctx)

	if err := bot.Open(ctx); err != nil {
		return err
	}

	restore, err := targets.All(ctx)
	if err != nil {
		zlog.Warn().Msgf("Failed to read voice targets: %v", err)
	} else if len(restore) > 0 {
		zlog.Info().Msgf("Restoring %d voice sessions", len(restore))
		sessions.Restore(ctx, restore)
	}

	serverErrCh := make(chan error, 1)
	var statusServer *status.Server
	if cfg.Status.Addr != "" {
		statusServer = status.NewServer(cfg.Status.Addr, status.NewHandler(sessions, node))
		if err := statusServer.Start(serverErrCh); err != nil {
			return err
		}
	}

	executeHooks(cfg.Hooks.OnStarted, "on_started")

	select {
	case <-ctx.Done():
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "status server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown status server: %v", err)
		}
	}

	// Voice targets are kept so the next start restores the sessions.
	sessions.Close(shutdownCtx)
	supervisor.Close()
	if err := node.Close(); err != nil {
		zlog.Debug().Msgf("Failed to close audio backend: %v", err)
	}
	bot.Close(shutdownCtx)

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Hooks.OnStopped, "on_stopped")
	return nil
}

// printFilters prints available filters.
func printFilters() {
	registered := filter.GetRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registered[name]()
		fmt.Printf("  %-30s [codes: %s]\n", f.Name(), strings.Join(f.ReturnCodes(), ", "))
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
