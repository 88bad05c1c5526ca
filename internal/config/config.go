// Package config loads micnote settings from defaults, an optional config
// file, MICNOTE_ environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/0xlemi/micnote/internal/capture"
	"github.com/0xlemi/micnote/internal/handoff"
	"github.com/0xlemi/micnote/internal/persist"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Source kinds
const (
	SourcePortAudio = "portaudio"
	SourceSynthetic = "synthetic"
)

// Store kinds
const (
	StoreSQLite = "sqlite"
	StoreWAV    = "wav"
)

// Config is the full set of settings
type Config struct {
	LogLevel        string          `mapstructure:"loglevel"`
	LogFile         string          `mapstructure:"logfile"`
	Source          string          `mapstructure:"source"`
	Channels        int             `mapstructure:"channels"`
	FramesPerBuffer int             `mapstructure:"framesperbuffer"`
	Synthetic       SyntheticConfig `mapstructure:"synthetic"`
	Flush           FlushConfig     `mapstructure:"flush"`
	Queue           QueueConfig     `mapstructure:"queue"`
	Persist         PersistConfig   `mapstructure:"persist"`
	Store           StoreConfig     `mapstructure:"store"`
}

type SyntheticConfig struct {
	SampleRate float64 `mapstructure:"samplerate"`
	Channels   int     `mapstructure:"channels"`
	Frequency  float64 `mapstructure:"frequency"`
}

type FlushConfig struct {
	Threshold int  `mapstructure:"threshold"`
	Headroom  int  `mapstructure:"headroom"`
	OnStop    bool `mapstructure:"onstop"`
}

type QueueConfig struct {
	Limit     int `mapstructure:"limit"`
	HighWater int `mapstructure:"highwater"`
}

type PersistConfig struct {
	MaxAttempts    int           `mapstructure:"maxattempts"`
	InitialBackoff time.Duration `mapstructure:"initialbackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxbackoff"`
	EscalateAfter  int           `mapstructure:"escalateafter"`
}

type StoreConfig struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"loglevel":   "loglevel",
	"logfile":    "logfile",
	"source":     "source",
	"store-kind": "store.kind",
	"store-path": "store.path",
}

func setViperDefaults(v *viper.Viper) {
	v.SetDefault("loglevel", "info")
	v.SetDefault("logfile", "")
	v.SetDefault("source", SourcePortAudio)
	v.SetDefault("channels", 2)
	v.SetDefault("framesperbuffer", 1024)
	v.SetDefault("synthetic.samplerate", 48000.0)
	v.SetDefault("synthetic.channels", 2)
	v.SetDefault("synthetic.frequency", 440.0)
	v.SetDefault("flush.threshold", capture.DefaultThreshold)
	v.SetDefault("flush.headroom", 0)
	v.SetDefault("flush.onstop", false)
	v.SetDefault("queue.limit", 0)
	v.SetDefault("queue.highwater", 256)
	v.SetDefault("persist.maxattempts", 3)
	v.SetDefault("persist.initialbackoff", 200*time.Millisecond)
	v.SetDefault("persist.maxbackoff", 5*time.Second)
	v.SetDefault("persist.escalateafter", 5)
	v.SetDefault("store.kind", StoreSQLite)
	v.SetDefault("store.path", "micnote.db")
}

// Load builds a Config. Later sources win: defaults, then configFile (if
// non-empty and present), then environment, then flags that were set.
func Load(configFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setViperDefaults(v)

	v.SetEnvPrefix("MICNOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("reading config %s: %w", configFile, err)
			}
			slog.Info("no config file found", "configFile", configFile)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	switch c.LogLevel {
	case "none", "error", "warn", "info", "debug":
	default:
		check(false, "loglevel %q", c.LogLevel)
	}
	check(c.Source == SourcePortAudio || c.Source == SourceSynthetic, "source %q", c.Source)
	check(c.Channels >= 1, "channels must be at least 1, got %d", c.Channels)
	check(c.FramesPerBuffer >= 0, "framesperbuffer must not be negative")
	if c.Source == SourceSynthetic {
		check(c.Synthetic.SampleRate > 0, "synthetic.samplerate must be positive")
		check(c.Synthetic.Channels >= 1, "synthetic.channels must be at least 1")
	}
	check(c.Flush.Threshold > 0, "flush.threshold must be positive, got %d", c.Flush.Threshold)
	check(c.Flush.Headroom == 0 || c.Flush.Headroom >= c.Flush.Threshold,
		"flush.headroom %d below flush.threshold %d", c.Flush.Headroom, c.Flush.Threshold)
	check(c.Queue.Limit >= 0, "queue.limit must not be negative")
	check(c.Queue.HighWater >= 0, "queue.highwater must not be negative")
	check(c.Persist.MaxAttempts >= 1, "persist.maxattempts must be at least 1")
	check(c.Persist.InitialBackoff >= 0 && c.Persist.MaxBackoff >= 0, "persist backoff must not be negative")
	check(c.Persist.EscalateAfter >= 0, "persist.escalateafter must not be negative")
	check(c.Store.Kind == StoreSQLite || c.Store.Kind == StoreWAV, "store.kind %q", c.Store.Kind)
	check(c.Store.Path != "", "store.path must be set")

	return errors.Join(errs...)
}

// Aggregator returns the aggregator settings
func (c Config) Aggregator() capture.AggregatorConfig {
	return capture.AggregatorConfig{
		Threshold:   c.Flush.Threshold,
		Headroom:    c.Flush.Headroom,
		FlushOnStop: c.Flush.OnStop,
	}
}

// QueueOptions returns the hand-off queue settings
func (c Config) QueueOptions() handoff.Options {
	return handoff.Options{
		Limit:     c.Queue.Limit,
		HighWater: c.Queue.HighWater,
	}
}

// PersistOptions returns offload settings for one session
func (c Config) PersistOptions(sessionID string, sampleRate int) persist.Options {
	return persist.Options{
		SessionID:      sessionID,
		SampleRate:     sampleRate,
		MaxAttempts:    c.Persist.MaxAttempts,
		InitialBackoff: c.Persist.InitialBackoff,
		MaxBackoff:     c.Persist.MaxBackoff,
		EscalateAfter:  c.Persist.EscalateAfter,
	}
}
