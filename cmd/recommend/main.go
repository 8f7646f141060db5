// Package main provides an offline CLI that runs the catalog and recommendation engine
// without connecting to Discord or the audio backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/encore/internal/app/catalog"
	"github.com/osa030/encore/internal/app/recommend"
	"github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
	"github.com/osa030/encore/internal/infra/config"
	"github.com/osa030/encore/internal/infra/logger"
)

var (
	app        = kingpin.New("encore-recommend", "Run one recommendation or catalog search offline")
	configPath = app.Flag("config", "Path to config file (defaults apply when empty)").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()

	// Seed track, used by the next command
	seedTitle    = app.Flag("title", "Seed track title").String()
	seedAuthor   = app.Flag("author", "Seed track author").String()
	seedDuration = app.Flag("duration", "Seed track duration").Default("3m30s").Duration()

	// next command (default)
	nextCmd = app.Command("next", "Pick the track that would follow the seed track").Default()

	// search command
	searchCmd   = app.Command("search", "Search the catalog")
	searchQuery = searchCmd.Arg("query", "Query, optionally prefixed with a provider (ytsearch:...)").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	level := "warn"
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Level: level, Format: "console", Output: "stderr"}); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Offline: providers that need the audio backend are rejected by the factory.
	cat, err := catalog.NewClientFromConfig(cfg, nil, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case nextCmd.FullCommand():
		if *seedTitle == "" || *seedAuthor == "" {
			fmt.Println("Error: --title and --author are required")
			os.Exit(1)
		}
		next(ctx, cfg, cat, track.Track{
			ID:       "seed",
			Title:    *seedTitle,
			Author:   *seedAuthor,
			Duration: *seedDuration,
		})
	case searchCmd.FullCommand():
		search(ctx, cat, *searchQuery)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse([]byte("{}"))
	}
	return config.Load(path)
}

func next(ctx context.Context, cfg *config.Config, cat *catalog.Client, seed track.Track) {
	engine, err := recommend.NewEngineFromConfig(cfg, cat)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	sess := session.New(0, 0, cfg.Recommend.HistoryWindow)
	sess.History.Append(seed)
	sess.Current = &seed

	ctx, cancel := context.WithTimeout(ctx, 3*cfg.Recommend.Timeout())
	defer cancel()

	pick := engine.Recommend(ctx, sess)
	if pick == nil {
		fmt.Println("no recommendation")
		return
	}
	printTrack(*pick)
}

func search(ctx context.Context, cat *catalog.Client, query string) {
	results, err := cat.Search(ctx, query)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return
	}
	for i, t := range results {
		fmt.Printf("%d. ", i+1)
		printTrack(t)
	}
}

func printTrack(t track.Track) {
	length := "live"
	if !t.IsStream() {
		length = t.Duration.Round(time.Second).String()
	}
	fmt.Printf("%s (%s) [%s]\n", t.String(), length, t.Source)
	if t.URI != "" {
		fmt.Printf("   %s\n", t.URI)
	}
}
