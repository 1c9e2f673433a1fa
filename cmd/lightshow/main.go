package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"
	"libdb.so/lightshow"
)

var (
	config      = "$LIGHTSHOW_HOME/lightshow.toml"
	verbose     = false
	file        = ""
	playlist    = ""
	readCache   = true
	skipPreshow = false
)

func init() {
	pflag.StringVarP(&config, "config", "c", config, "configuration file")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
	pflag.StringVar(&file, "file", file, "audio file to play")
	pflag.StringVar(&playlist, "playlist", playlist, "playlist to choose the song from")
	pflag.BoolVar(&readCache, "readcache", readCache, "use cached sync data when available")
	pflag.BoolVar(&skipPreshow, "skip-preshow", skipPreshow, "start the song without the preshow")
}

func main() {
	pflag.Parse()

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if file != "" && playlist != "" {
		return errors.New("--file and --playlist cannot be used together")
	}

	cfg, err := readConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	show, err := lightshow.NewShow(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create show: %w", err)
	}

	res, err := show.Run(ctx, lightshow.Request{
		File:        file,
		Playlist:    playlist,
		ReadCache:   readCache,
		SkipPreshow: skipPreshow,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("show failed: %w", err)
	}

	slog.Info(
		"show finished",
		"blocks", res.Rows,
		"cache_hit", res.CacheHit,
		"underruns", res.Underruns,
		"aborted", res.Aborted)

	return nil
}

func readConfig() (*lightshow.Config, error) {
	f, err := os.Open(lightshow.ExpandPath(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return lightshow.ParseConfig(f)
}
