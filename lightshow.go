// Package lightshow plays music while switching light channels on and off
// to it.
package lightshow

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/lightshow/internal/audio"
	"libdb.so/lightshow/internal/playlist"
	"libdb.so/lightshow/internal/state"
)

// Request describes what a Show should play.
type Request struct {
	// File is the audio file to play. If empty, the next song is chosen
	// from the playlist.
	File string
	// Playlist overrides the configured playlist path.
	Playlist string
	// ReadCache uses cached timelines when they exist.
	ReadCache bool
	// SkipPreshow plays the song without the preshow.
	SkipPreshow bool
}

// Show runs one song of the light show from start to finish: the preshow,
// choosing the song, and playing it.
type Show struct {
	// Sink plays the audio. It defaults to the system speaker.
	Sink audio.Sink
	// Output overrides the output opened from the configuration.
	Output Output

	cfg    *Config
	logger *slog.Logger
}

// NewShow creates a new show.
func NewShow(cfg *Config, logger *slog.Logger) (*Show, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &Show{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run runs the show. The lights are turned off before Run returns.
func (s *Show) Run(ctx context.Context, req Request) (Result, error) {
	out := s.Output
	if out == nil {
		var err error
		out, err = OpenOutput(s.cfg.Output, s.logger)
		if err != nil {
			return Result{}, err
		}
	}
	defer out.Close()

	errg, ctx := errgroup.WithContext(ctx)

	// The runner outlives the show so that the lights can be turned off.
	runCtx, stopRunner := context.WithCancel(ctx)
	defer stopRunner()

	if r, ok := out.(Runner); ok {
		errg.Go(func() error {
			if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "output failed")
			}
			return nil
		})
	}

	var res Result
	errg.Go(func() error {
		defer stopRunner()

		var err error
		res, err = s.run(ctx, out, req)

		if offErr := out.AllOff(); offErr != nil {
			s.logger.Warn("failed to turn lights off", "err", offErr)
		}

		return err
	})

	return res, errg.Wait()
}

func (s *Show) run(ctx context.Context, out Output, req Request) (Result, error) {
	sf := state.Open(ExpandPath(s.cfg.Lightshow.StateFile))

	playNow := sf.PlayNowRequested()
	if playNow {
		s.logger.Info("play now requested, skipping preshow")
	}

	if !playNow && !req.SkipPreshow && len(s.cfg.Lightshow.Preshow) > 0 {
		preshow := Preshow{
			Transitions: s.cfg.Lightshow.Preshow,
			Out:         out,
			Signal:      sf,
			Logger:      s.logger,
		}
		if err := preshow.Run(ctx); err != nil && !errors.Is(err, ErrPreshowInterrupted) {
			return Result{}, errors.Wrap(err, "preshow failed")
		}
	}

	path := req.File
	if path == "" {
		var err error
		path, err = s.nextSong(sf, req)
		if err != nil {
			return Result{}, err
		}
	}
	path = ExpandPath(path)

	if sf.PlayNowRequested() {
		if err := sf.Update(func(st *state.State) { st.PlayNow = 0 }); err != nil {
			return Result{}, errors.Wrap(err, "failed to reset play now")
		}
	}

	sink := s.Sink
	if sink == nil {
		sink = &audio.Speaker{QueueLength: 2}
	}

	player, err := NewPlayer(s.cfg, out, sink, sf, s.logger)
	if err != nil {
		return Result{}, err
	}
	player.ReadCache = req.ReadCache

	return player.Play(ctx, path)
}

func (s *Show) nextSong(sf *state.File, req Request) (string, error) {
	path := req.Playlist
	if path == "" {
		path = s.cfg.Lightshow.PlaylistPath
	}

	pl := playlist.Playlist{Path: ExpandPath(path)}

	song, choice, err := pl.Next(sf, playlist.Options{
		Randomize: s.cfg.Lightshow.RandomizePlaylist,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to choose song from %s", pl.Path)
	}

	s.logger.Info(
		"chose song",
		"name", song.Name,
		"path", song.Path,
		"reason", choice.Reason)

	return song.Path, nil
}
