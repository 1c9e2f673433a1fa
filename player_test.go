package lightshow

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"libdb.so/lightshow/internal/audio"
	"libdb.so/lightshow/internal/bands"
	"libdb.so/lightshow/internal/lights"
	"libdb.so/lightshow/internal/spectrum"
	"libdb.so/lightshow/internal/threshold"
	"libdb.so/lightshow/internal/timeline"
)

const (
	testChunk   = 4096
	testRate    = 44100
	testChannel = 3
)

var testLogger = slog.New(slog.DiscardHandler)

type recordingOutput struct {
	n      int
	frames []lights.States
}

var _ Output = (*recordingOutput)(nil)

func (o *recordingOutput) NumChannels() int { return o.n }

func (o *recordingOutput) Set(s lights.States) error {
	o.frames = append(o.frames, s.Clone())
	return nil
}

func (o *recordingOutput) AllOn() error  { return nil }
func (o *recordingOutput) AllOff() error { return nil }
func (o *recordingOutput) Close() error  { return nil }

// countdownSignal requests play now after the given number of polls.
type countdownSignal struct{ polls int }

func (s *countdownSignal) PlayNowRequested() bool {
	s.polls--
	return s.polls < 0
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Audio.ChunkSize = testChunk
	cfg.AutoTuning.LimitThreshold = 0.8
	cfg.AutoTuning.LimitThresholdIncrease = 1.25
	cfg.AutoTuning.LimitThresholdDecrease = 0.8
	cfg.AutoTuning.MaxOffCycles = 2
	return cfg
}

func testAnalyzer(t *testing.T, cfg *Config) *spectrum.Analyzer {
	t.Helper()

	b, err := cfg.Bands()
	if err != nil {
		t.Fatal(err)
	}

	a, err := spectrum.NewAnalyzer(spectrum.Config{
		ChunkSize:     cfg.Audio.ChunkSize,
		AudioChannels: 1,
		SampleRate:    testRate,
		Bands:         b,
		Scale:         cfg.Audio.Scale,
		Backend:       cfg.Audio.FFT,
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// scenarioBlocks returns 5 blocks of a tone in the middle of the test
// channel's band growing by 1.5x each block, then 5 silent blocks.
func scenarioBlocks(t *testing.T, cfg *Config) [][]int16 {
	t.Helper()

	lo, hi := testAnalyzer(t, cfg).BinRange(testChannel)
	bin := (lo + hi) / 2

	blocks := make([][]int16, 10)
	amplitude := 1000.0
	for i := range blocks {
		block := make([]int16, testChunk)
		if i < 5 {
			for j := range block {
				phase := 2 * math.Pi * float64(bin) * float64(j) / testChunk
				block[j] = int16(math.Round(amplitude * math.Cos(phase)))
			}
			amplitude *= 1.5
		}
		blocks[i] = block
	}
	return blocks
}

func concatBlocks(blocks [][]int16) []int16 {
	var samples []int16
	for _, b := range blocks {
		samples = append(samples, b...)
	}
	return samples
}

// withBaseline sets the starting limit of every channel to half of the test
// channel's amplitude in the first block.
func withBaseline(t *testing.T, cfg *Config, first []int16) {
	t.Helper()
	amps := testAnalyzer(t, cfg).Analyze(first, nil)
	cfg.AutoTuning.LimitList = []float64{amps[testChannel] / 2}
}

func newTestPlayer(t *testing.T, cfg *Config, out Output, signal PlayNowSignal) *Player {
	t.Helper()
	p, err := NewPlayer(cfg, out, audio.Discard{}, signal, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPlayerScenario(t *testing.T) {
	cfg := testConfig()
	blocks := scenarioBlocks(t, cfg)
	withBaseline(t, cfg, blocks[0])

	out := &recordingOutput{n: cfg.Output.Channels}
	player := newTestPlayer(t, cfg, out, nil)
	cachePath := filepath.Join(t.TempDir(), ".song.wav.sync.gz")

	src := audio.NewSliceSource(testRate, 1, concatBlocks(blocks))
	res, err := player.PlaySource(context.Background(), src, cachePath)
	if err != nil {
		t.Fatal(err)
	}

	if res.Rows != 10 || res.CacheHit || res.Aborted || !res.Saved {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(out.frames) != 10 {
		t.Fatalf("got %d frames, want 10", len(out.frames))
	}

	for i, frame := range out.frames {
		for ch, on := range frame {
			want := ch == testChannel && i < 5
			if on != want {
				t.Errorf("block %d channel %d: got %v, want %v (%s)", i, ch, on, want, frame)
			}
		}
	}

	// Follow the limit of the test channel with the same components.
	analyzer := testAnalyzer(t, cfg)
	params := cfg.AutoTuning.Params()
	state, err := threshold.NewState(cfg.Output.Channels, cfg.AutoTuning.LimitList)
	if err != nil {
		t.Fatal(err)
	}

	var decays int
	var states lights.States
	for i, block := range blocks {
		before := state.Limit[testChannel]
		states = params.Step(state, analyzer.Analyze(block, nil), states)
		after := state.Limit[testChannel]

		if i >= 5 && after < before {
			decays++
			if i != 7 {
				t.Errorf("limit decayed at block %d, want block 7", i)
			}
		}
		if i < 5 && after < before {
			t.Errorf("limit decreased at block %d while the tone was playing", i)
		}
	}
	if decays != 1 {
		t.Errorf("limit decayed %d times, want 1", decays)
	}
}

func TestPlayerCacheRoundTrip(t *testing.T) {
	cfg := testConfig()
	blocks := scenarioBlocks(t, cfg)
	withBaseline(t, cfg, blocks[0])
	samples := concatBlocks(blocks)
	cachePath := filepath.Join(t.TempDir(), ".song.wav.sync.gz")

	live := &recordingOutput{n: cfg.Output.Channels}
	res, err := newTestPlayer(t, cfg, live, nil).
		PlaySource(context.Background(), audio.NewSliceSource(testRate, 1, samples), cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Saved {
		t.Fatal("live run did not save the timeline")
	}

	cached := &recordingOutput{n: cfg.Output.Channels}
	res, err = newTestPlayer(t, cfg, cached, nil).
		PlaySource(context.Background(), audio.NewSliceSource(testRate, 1, samples), cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if !res.CacheHit || res.Saved || res.Underruns != 0 || res.Rows != 10 {
		t.Fatalf("unexpected cached result %+v", res)
	}

	for i := range live.frames {
		if !live.frames[i].Equal(cached.frames[i]) {
			t.Errorf("block %d: live %s, cached %s", i, live.frames[i], cached.frames[i])
		}
	}
}

func TestPlayerReadCacheDisabled(t *testing.T) {
	cfg := testConfig()
	cachePath := filepath.Join(t.TempDir(), ".song.wav.sync.gz")

	stale := timeline.New(cfg.Output.Channels)
	on := lights.NewStates(cfg.Output.Channels)
	on.SetAll(true)
	stale.Append(on)
	if err := timeline.Save(cachePath, stale); err != nil {
		t.Fatal(err)
	}

	out := &recordingOutput{n: cfg.Output.Channels}
	player := newTestPlayer(t, cfg, out, nil)
	player.ReadCache = false

	src := audio.NewSliceSource(testRate, 1, make([]int16, 3*testChunk))
	res, err := player.PlaySource(context.Background(), src, cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHit || !res.Saved {
		t.Fatalf("unexpected result %+v", res)
	}

	tl, err := timeline.Load(cachePath, cfg.Output.Channels)
	if err != nil {
		t.Fatal(err)
	}
	if tl.Len() != 3 {
		t.Errorf("rewritten cache has %d rows, want 3", tl.Len())
	}
}

func TestPlayerUnderrun(t *testing.T) {
	tests := []struct {
		name   string
		policy UnderrunPolicy
		want   string
	}{
		{"hold", HoldUnderrun, "10100000"},
		{"off", OffUnderrun, "00000000"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Lightshow.Underrun = test.policy
			cachePath := filepath.Join(t.TempDir(), ".song.wav.sync.gz")

			tl := timeline.New(cfg.Output.Channels)
			for range 3 {
				s := lights.NewStates(cfg.Output.Channels)
				s.Set(0, true)
				s.Set(2, true)
				tl.Append(s)
			}
			if err := timeline.Save(cachePath, tl); err != nil {
				t.Fatal(err)
			}

			out := &recordingOutput{n: cfg.Output.Channels}
			src := audio.NewSliceSource(testRate, 1, make([]int16, 5*testChunk))
			res, err := newTestPlayer(t, cfg, out, nil).
				PlaySource(context.Background(), src, cachePath)
			if err != nil {
				t.Fatal(err)
			}

			if !res.CacheHit || res.Underruns != 2 || res.Rows != 5 {
				t.Fatalf("unexpected result %+v", res)
			}
			for i := 3; i < 5; i++ {
				if got := out.frames[i].String(); got != test.want {
					t.Errorf("block %d: got %s, want %s", i, got, test.want)
				}
			}
		})
	}
}

func TestPlayerPlayNowAborts(t *testing.T) {
	cfg := testConfig()
	cachePath := filepath.Join(t.TempDir(), ".song.wav.sync.gz")

	out := &recordingOutput{n: cfg.Output.Channels}
	player := newTestPlayer(t, cfg, out, &countdownSignal{polls: 2})

	src := audio.NewSliceSource(testRate, 1, make([]int16, 10*testChunk))
	res, err := player.PlaySource(context.Background(), src, cachePath)
	if err != nil {
		t.Fatal(err)
	}

	if !res.Aborted || res.Saved || res.Rows != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Errorf("aborted run left a cache behind: %v", err)
	}
}

func TestPlayerContextCanceled(t *testing.T) {
	cfg := testConfig()
	cachePath := filepath.Join(t.TempDir(), ".song.wav.sync.gz")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := &recordingOutput{n: cfg.Output.Channels}
	src := audio.NewSliceSource(testRate, 1, make([]int16, 4*testChunk))
	res, err := newTestPlayer(t, cfg, out, nil).PlaySource(ctx, src, cachePath)
	if err != nil {
		t.Fatal(err)
	}

	if !res.Aborted || res.Rows != 0 || res.Saved {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Errorf("canceled run left a cache behind: %v", err)
	}
}

func TestPlayerCorruptCache(t *testing.T) {
	cfg := testConfig()
	cachePath := filepath.Join(t.TempDir(), ".song.wav.sync.gz")

	if err := os.WriteFile(cachePath, []byte("not a timeline"), 0644); err != nil {
		t.Fatal(err)
	}

	out := &recordingOutput{n: cfg.Output.Channels}
	src := audio.NewSliceSource(testRate, 1, make([]int16, 2*testChunk))
	res, err := newTestPlayer(t, cfg, out, nil).
		PlaySource(context.Background(), src, cachePath)
	if err != nil {
		t.Fatal(err)
	}

	if res.CacheHit || !res.Saved || res.Rows != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := timeline.Load(cachePath, cfg.Output.Channels); err != nil {
		t.Errorf("cache was not replaced: %v", err)
	}
}

func TestNewPlayerRejectsBadMapping(t *testing.T) {
	cfg := testConfig()
	cfg.Audio.CustomChannelMapping = []int{1, 2, 3}

	_, err := NewPlayer(cfg, &recordingOutput{n: cfg.Output.Channels}, audio.Discard{}, nil, testLogger)
	if err == nil {
		t.Fatal("expected an error")
	}

	var cerr *bands.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Errorf("error %v is not a ConfigurationError", err)
	}
}

func TestNewPlayerChannelMismatch(t *testing.T) {
	cfg := testConfig()

	_, err := NewPlayer(cfg, &recordingOutput{n: 4}, audio.Discard{}, nil, testLogger)
	if err == nil {
		t.Fatal("expected an error")
	}
}
