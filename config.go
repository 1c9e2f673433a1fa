package lightshow

import (
	"encoding"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"libdb.so/lightshow/internal/bands"
	"libdb.so/lightshow/internal/spectrum"
	"libdb.so/lightshow/internal/threshold"
)

// Config is the configuration for the light show.
type Config struct {
	// Audio is the configuration for audio processing.
	Audio AudioConfig `toml:"audio"`
	// AutoTuning is the configuration for the adaptive channel thresholds.
	AutoTuning AutoTuningConfig `toml:"auto_tuning"`
	// Lightshow is the configuration for song selection and playback.
	Lightshow LightshowConfig `toml:"lightshow"`
	// Output is the configuration for the light output.
	Output OutputConfig `toml:"output"`
}

// AudioConfig is the configuration for audio processing.
type AudioConfig struct {
	// ChunkSize is the number of frames analyzed at a time. It must be a
	// multiple of 8.
	ChunkSize int `toml:"chunk_size"`
	// MinFrequency is the lowest frequency of the lowest channel in Hz.
	MinFrequency float64 `toml:"min_frequency"`
	// MaxFrequency is the highest frequency of the highest channel in Hz.
	MaxFrequency float64 `toml:"max_frequency"`
	// CustomChannelMapping optionally assigns a 1-based frequency band to
	// each channel. Bands may repeat.
	CustomChannelMapping []int `toml:"custom_channel_mapping,omitempty"`
	// CustomChannelFrequencies optionally replaces the band boundaries.
	CustomChannelFrequencies []float64 `toml:"custom_channel_frequencies,omitempty"`
	// FFT selects the FFT implementation, either "real" or "complex".
	FFT spectrum.Backend `toml:"fft"`
	// Scale divides every channel amplitude.
	Scale float64 `toml:"scale"`
}

// BandOptions returns the band overrides.
func (c AudioConfig) BandOptions() bands.Options {
	return bands.Options{
		Mapping:     c.CustomChannelMapping,
		Frequencies: c.CustomChannelFrequencies,
	}
}

// AutoTuningConfig is the configuration for the adaptive thresholds.
type AutoTuningConfig struct {
	// LimitList is the starting limit, either one for all channels or one
	// per channel.
	LimitList []float64 `toml:"limit_list"`
	// LimitThreshold scales the amplitude when checking if the limit needs
	// to be raised.
	LimitThreshold float64 `toml:"limit_threshold"`
	// LimitThresholdIncrease multiplies the limit when it is raised.
	LimitThresholdIncrease float64 `toml:"limit_threshold_increase"`
	// LimitThresholdDecrease multiplies the limit when a channel has been
	// off for too long.
	LimitThresholdDecrease float64 `toml:"limit_threshold_decrease"`
	// MaxOffCycles is the number of blocks a channel may stay off before
	// its limit is lowered.
	MaxOffCycles int `toml:"max_off_cycles"`
}

// Params returns the threshold parameters.
func (c AutoTuningConfig) Params() threshold.Params {
	return threshold.Params{
		ThresholdFactor: c.LimitThreshold,
		IncreaseFactor:  c.LimitThresholdIncrease,
		DecreaseFactor:  c.LimitThresholdDecrease,
		MaxOffCycles:    c.MaxOffCycles,
	}
}

// LightshowConfig is the configuration for song selection and playback.
type LightshowConfig struct {
	// PlaylistPath is the default playlist.
	PlaylistPath string `toml:"playlist_path"`
	// RandomizePlaylist picks a random song when no song has votes.
	RandomizePlaylist bool `toml:"randomize_playlist"`
	// StateFile is the path of the shared state file.
	StateFile string `toml:"state_file"`
	// Underrun decides what the lights do once a cached timeline runs out.
	Underrun UnderrunPolicy `toml:"underrun"`
	// Preshow is the list of transitions played before the song.
	Preshow []Transition `toml:"preshow"`
}

// UnderrunPolicy decides the channel states for blocks past the end of a
// cached timeline.
type UnderrunPolicy string

const (
	// HoldUnderrun keeps the last known states.
	HoldUnderrun UnderrunPolicy = "hold"
	// OffUnderrun turns every channel off.
	OffUnderrun UnderrunPolicy = "off"
)

// Transition is one step of the preshow.
type Transition struct {
	// State is either "on" or "off".
	State TransitionState `toml:"state"`
	// Duration is how long the state is held.
	Duration TOMLDuration `toml:"duration"`
}

// TransitionState is the state of every channel during a transition.
type TransitionState string

const (
	TransitionOn  TransitionState = "on"
	TransitionOff TransitionState = "off"
)

// OutputConfig is the configuration for the light output.
type OutputConfig struct {
	// Kind is the kind of output.
	Kind OutputKind `toml:"kind"`
	// Channels is the number of light channels.
	Channels int `toml:"channels"`
	// Device is the path to the serial device of the relay controller.
	// This is usually /dev/ttyUSB0 or /dev/ttyACM0.
	Device string `toml:"device"`
	// Baud is the baud rate for the serial connection.
	Baud int `toml:"baud"`
}

// OutputKind is the kind of light output.
type OutputKind string

const (
	// SerialOutputKind drives a relay controller over a serial port.
	SerialOutputKind OutputKind = "serial"
	// LogOutputKind only logs channel changes.
	LogOutputKind OutputKind = "log"
)

// Defaults used for settings missing from the configuration file.
const (
	DefaultChunkSize    = 4096
	DefaultChannels     = 8
	DefaultBaud         = 115200
	DefaultMaxOffCycles = 50
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			ChunkSize:    DefaultChunkSize,
			MinFrequency: 20,
			MaxFrequency: 15000,
			FFT:          spectrum.RealBackend,
			Scale:        spectrum.DefaultScale,
		},
		AutoTuning: AutoTuningConfig{
			LimitList:              []float64{4},
			LimitThreshold:         1.2,
			LimitThresholdIncrease: 1.5,
			LimitThresholdDecrease: 0.8,
			MaxOffCycles:           DefaultMaxOffCycles,
		},
		Lightshow: LightshowConfig{
			PlaylistPath: "$LIGHTSHOW_HOME/music/.playlist",
			StateFile:    "$LIGHTSHOW_HOME/state.toml",
			Underrun:     HoldUnderrun,
		},
		Output: OutputConfig{
			Kind:     LogOutputKind,
			Channels: DefaultChannels,
			Baud:     DefaultBaud,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Output.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", c.Output.Channels)
	}

	switch c.Output.Kind {
	case SerialOutputKind:
		if c.Output.Device == "" {
			return errors.New("serial output needs a device")
		}
		if c.Output.Baud <= 0 {
			return fmt.Errorf("invalid baud rate %d", c.Output.Baud)
		}
		if c.Output.Channels > 0xFFFF {
			return fmt.Errorf("serial output supports at most %d channels", 0xFFFF)
		}
	case LogOutputKind:
	default:
		return fmt.Errorf("unknown output kind %q", c.Output.Kind)
	}

	if c.Audio.ChunkSize <= 0 || c.Audio.ChunkSize%8 != 0 {
		return fmt.Errorf("chunk size must be a positive multiple of 8, got %d", c.Audio.ChunkSize)
	}
	if !c.Audio.FFT.Valid() {
		return fmt.Errorf("unknown fft backend %q", c.Audio.FFT)
	}
	// Mono and stereo blocks are 1 or 2 chunks long, so a power of two
	// chunk keeps the block a power of two.
	if !c.Audio.FFT.SupportsSize(c.Audio.ChunkSize) {
		return fmt.Errorf(
			"%s fft needs a power of two chunk size, got %d",
			c.Audio.FFT, c.Audio.ChunkSize)
	}
	if c.Audio.Scale < 0 {
		return fmt.Errorf("scale must not be negative, got %g", c.Audio.Scale)
	}

	if _, err := c.Bands(); err != nil {
		return err
	}

	if err := c.AutoTuning.Params().Validate(); err != nil {
		return errors.Wrap(err, "invalid auto tuning")
	}
	if n := len(c.AutoTuning.LimitList); n != 1 && n != c.Output.Channels {
		return fmt.Errorf(
			"limit list has %d entries, want 1 or %d",
			n, c.Output.Channels)
	}
	for i, l := range c.AutoTuning.LimitList {
		if !(l > 0) {
			return fmt.Errorf("limit %d must be positive, got %g", i, l)
		}
	}

	switch c.Lightshow.Underrun {
	case HoldUnderrun, OffUnderrun:
	default:
		return fmt.Errorf("unknown underrun policy %q", c.Lightshow.Underrun)
	}

	for i, t := range c.Lightshow.Preshow {
		if t.State != TransitionOn && t.State != TransitionOff {
			return fmt.Errorf("preshow transition %d has unknown state %q", i, t.State)
		}
		if t.Duration < 0 {
			return fmt.Errorf("preshow transition %d has negative duration", i)
		}
	}

	return nil
}

// Bands computes the frequency band of each channel.
func (c *Config) Bands() ([]bands.Band, error) {
	return bands.Compute(
		c.Audio.MinFrequency,
		c.Audio.MaxFrequency,
		c.Output.Channels,
		c.Audio.BandOptions())
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a configuration from a reader. Settings missing from
// the configuration take their default values.
func ParseConfig(r io.Reader) (*Config, error) {
	tree, err := toml.LoadReader(r)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := tree.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.applyDefaults(tree)
	return &config, nil
}

func (c *Config) applyDefaults(tree *toml.Tree) {
	def := DefaultConfig()

	if c.Audio.ChunkSize == 0 {
		c.Audio.ChunkSize = def.Audio.ChunkSize
	}
	if c.Audio.MinFrequency == 0 {
		c.Audio.MinFrequency = def.Audio.MinFrequency
	}
	if c.Audio.MaxFrequency == 0 {
		c.Audio.MaxFrequency = def.Audio.MaxFrequency
	}
	if c.Audio.FFT == "" {
		c.Audio.FFT = def.Audio.FFT
	}
	if c.Audio.Scale == 0 {
		c.Audio.Scale = def.Audio.Scale
	}

	if c.AutoTuning.LimitList == nil {
		c.AutoTuning.LimitList = def.AutoTuning.LimitList
	}
	if c.AutoTuning.LimitThreshold == 0 {
		c.AutoTuning.LimitThreshold = def.AutoTuning.LimitThreshold
	}
	if c.AutoTuning.LimitThresholdIncrease == 0 {
		c.AutoTuning.LimitThresholdIncrease = def.AutoTuning.LimitThresholdIncrease
	}
	if c.AutoTuning.LimitThresholdDecrease == 0 {
		c.AutoTuning.LimitThresholdDecrease = def.AutoTuning.LimitThresholdDecrease
	}
	// Zero is a valid number of off cycles, so only a missing key defaults.
	if !tree.Has("auto_tuning.max_off_cycles") {
		c.AutoTuning.MaxOffCycles = def.AutoTuning.MaxOffCycles
	}

	if c.Lightshow.PlaylistPath == "" {
		c.Lightshow.PlaylistPath = def.Lightshow.PlaylistPath
	}
	if c.Lightshow.StateFile == "" {
		c.Lightshow.StateFile = def.Lightshow.StateFile
	}
	if c.Lightshow.Underrun == "" {
		c.Lightshow.Underrun = def.Lightshow.Underrun
	}

	if c.Output.Kind == "" {
		c.Output.Kind = def.Output.Kind
	}
	if c.Output.Channels == 0 {
		c.Output.Channels = def.Output.Channels
	}
	if c.Output.Baud == 0 {
		c.Output.Baud = def.Output.Baud
	}
}

// HomeVariable is the placeholder replaced by ExpandPath.
const HomeVariable = "$LIGHTSHOW_HOME"

// ExpandPath replaces $LIGHTSHOW_HOME in the path with the value of the
// LIGHTSHOW_HOME environment variable.
func ExpandPath(path string) string {
	return strings.ReplaceAll(path, HomeVariable, os.Getenv("LIGHTSHOW_HOME"))
}
