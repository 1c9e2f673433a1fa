package lightshow

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"libdb.so/lightshow/internal/audio"
	"libdb.so/lightshow/internal/bands"
	"libdb.so/lightshow/internal/lights"
	"libdb.so/lightshow/internal/spectrum"
	"libdb.so/lightshow/internal/threshold"
	"libdb.so/lightshow/internal/timeline"
)

// PlayNowSignal is polled once per block. When it reports a request, the
// current playback stops so that the requested song can start.
type PlayNowSignal interface {
	PlayNowRequested() bool
}

type noSignal struct{}

func (noSignal) PlayNowRequested() bool { return false }

// Player plays audio files while switching the lights to the music.
type Player struct {
	// ReadCache uses cached timelines when they exist. When false, the
	// timeline is always computed and the cache is rewritten.
	ReadCache bool

	cfg    *Config
	bands  []bands.Band
	params threshold.Params
	out    Output
	sink   audio.Sink
	signal PlayNowSignal
	logger *slog.Logger
}

// Result describes a finished playback.
type Result struct {
	// Rows is the number of blocks played.
	Rows int
	// CacheHit is true if the lights were driven from a cached timeline.
	CacheHit bool
	// Underruns is the number of blocks played past the end of the cached
	// timeline.
	Underruns int
	// Aborted is true if playback was stopped before the end of the audio.
	Aborted bool
	// Saved is true if a new timeline was written to the cache.
	Saved bool
}

// NewPlayer creates a new player. The signal may be nil.
func NewPlayer(cfg *Config, out Output, sink audio.Sink, signal PlayNowSignal, logger *slog.Logger) (*Player, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	if out.NumChannels() != cfg.Output.Channels {
		return nil, errors.Errorf(
			"output drives %d channels, configuration has %d",
			out.NumChannels(), cfg.Output.Channels)
	}

	b, err := cfg.Bands()
	if err != nil {
		return nil, err
	}
	for i, band := range b {
		logger.Debug("channel frequency band", "channel", i, "band", band)
	}

	if signal == nil {
		signal = noSignal{}
	}

	return &Player{
		ReadCache: true,
		cfg:       cfg,
		bands:     b,
		params:    cfg.AutoTuning.Params(),
		out:       out,
		sink:      sink,
		signal:    signal,
		logger:    logger,
	}, nil
}

// Bands returns the frequency band of each channel.
func (p *Player) Bands() []bands.Band {
	return p.bands
}

// Play plays the audio file at the given path. The timeline is cached next
// to the file.
func (p *Player) Play(ctx context.Context, path string) (Result, error) {
	src, err := audio.Open(path)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to open audio")
	}
	defer src.Close()

	format := src.Format()
	p.logger.Info(
		"playing",
		"file", path,
		"duration", format.Duration().Round(time.Second),
		"sample_rate", format.SampleRate,
		"channels", format.Channels)

	return p.PlaySource(ctx, src, timeline.PathFor(path))
}

// PlaySource plays audio from the given source, using the timeline cached
// at cachePath. Playback stops early when the context is canceled or a
// play now request is signaled. In that case no timeline is written.
func (p *Player) PlaySource(ctx context.Context, src audio.Source, cachePath string) (Result, error) {
	var res Result

	format := src.Format()
	numChannels := p.cfg.Output.Channels
	chunkSize := p.cfg.Audio.ChunkSize

	var cached *timeline.Timeline
	if p.ReadCache {
		t, err := timeline.Load(cachePath, numChannels)
		if err != nil {
			p.logger.Info("cached sync data not found", "path", cachePath, "reason", err)
		} else {
			p.logger.Info("using cached sync data", "path", cachePath, "rows", t.Len())
			cached = t
			res.CacheHit = true
		}
	}

	// The analyzer and threshold state only exist on a cache miss.
	var (
		analyzer *spectrum.Analyzer
		tstate   *threshold.State
		built    *timeline.Timeline
	)
	if cached == nil {
		var err error
		analyzer, err = spectrum.NewAnalyzer(spectrum.Config{
			ChunkSize:     chunkSize,
			AudioChannels: format.Channels,
			SampleRate:    format.SampleRate,
			Bands:         p.bands,
			Scale:         p.cfg.Audio.Scale,
			Backend:       p.cfg.Audio.FFT,
		})
		if err != nil {
			return res, errors.Wrap(err, "failed to create analyzer")
		}

		tstate, err = threshold.NewState(numChannels, p.cfg.AutoTuning.LimitList)
		if err != nil {
			return res, errors.Wrap(err, "failed to create threshold state")
		}

		built = timeline.New(numChannels)
	}

	if err := p.sink.Open(format, chunkSize); err != nil {
		return res, errors.Wrap(err, "failed to open audio output")
	}
	defer p.sink.Close()

	states := lights.NewStates(numChannels)
	var (
		block []int16
		amps  []float64
	)

	for {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}

		var err error
		block, err = src.ReadBlock(block, chunkSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return res, errors.Wrap(err, "failed to read audio")
		}

		if err := p.sink.Write(block); err != nil {
			return res, errors.Wrap(err, "failed to play audio")
		}

		if cached != nil {
			row, err := cached.Lookup(res.Rows)
			if err != nil {
				if res.Underruns == 0 {
					p.logger.Warn("ran out of cached timing values", "row", res.Rows)
				}
				res.Underruns++
				if p.cfg.Lightshow.Underrun == OffUnderrun {
					states.SetAll(false)
				}
			} else {
				copy(states, row)
			}
		} else {
			amps = analyzer.Analyze(block, amps)
			states = p.params.Step(tstate, amps, states)
			built.Append(states)
		}

		if err := p.out.Set(states); err != nil {
			return res, errors.Wrap(err, "failed to set lights")
		}

		res.Rows++

		if p.signal.PlayNowRequested() {
			p.logger.Info("play now requested, stopping playback")
			res.Aborted = true
			break
		}
	}

	if built != nil && !res.Aborted {
		if err := timeline.Save(cachePath, built); err != nil {
			p.logger.Warn("failed to write cached sync data", "path", cachePath, "err", err)
		} else {
			p.logger.Info("cached sync data written", "path", cachePath, "rows", built.Len())
			res.Saved = true
		}
	}

	return res, nil
}
