package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/0xlemi/micnote/internal/audio"
	"github.com/0xlemi/micnote/internal/audio/portaudio"
	"github.com/0xlemi/micnote/internal/config"
	"github.com/0xlemi/micnote/internal/logging"
	"github.com/0xlemi/micnote/internal/storage"
	"github.com/0xlemi/micnote/internal/storage/sqlite"
	"github.com/0xlemi/micnote/internal/storage/wavfile"
	"github.com/spf13/cobra"
)

// app holds what every subcommand needs once flags are parsed
type app struct {
	configFile string
	cfg        config.Config
	logCloser  io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "micnote",
		Short:         "Record the default microphone into batched PCM records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "micnote.yaml", "config file (yaml, toml or json)")
	flags.String("loglevel", "info", "none, error, warn, info or debug")
	flags.String("logfile", "", "write JSON logs to this file instead of stderr")
	flags.String("source", config.SourcePortAudio, "audio source: portaudio or synthetic")
	flags.String("store-kind", config.StoreSQLite, "record store: sqlite or wav")
	flags.String("store-path", "micnote.db", "database file or WAV directory")

	root.AddCommand(
		newRecordCmd(a),
		newDevicesCmd(a),
		newRecordsCmd(a),
		newExportCmd(a),
	)

	// Running micnote with no subcommand records with the terminal UI
	record := newRecordCmd(a)
	root.RunE = record.RunE
	root.Flags().AddFlagSet(record.Flags())
	return root
}

// load reads configuration and sets up logging; it runs before each command
func (a *app) load(cmd *cobra.Command, forceLogFile bool) error {
	cfg, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if forceLogFile && cfg.LogFile == "" {
		// log lines would corrupt the terminal UI
		cfg.LogFile = "micnote.log"
	}
	closer, err := logging.Configure(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	a.cfg = cfg
	a.logCloser = closer
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	switch a.cfg.Store.Kind {
	case config.StoreWAV:
		return wavfile.Open(a.cfg.Store.Path)
	default:
		return sqlite.Open(ctx, a.cfg.Store.Path)
	}
}

func (a *app) openLister(ctx context.Context) (storage.Lister, func() error, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	lister, ok := store.(storage.Lister)
	if !ok {
		store.Close()
		return nil, nil, fmt.Errorf("store kind %q cannot list records", a.cfg.Store.Kind)
	}
	return lister, store.Close, nil
}

func (a *app) openSource() (audio.Source, error) {
	if a.cfg.Source == config.SourceSynthetic {
		s := a.cfg.Synthetic
		return audio.NewSyntheticSource(s.SampleRate, s.Channels, a.cfg.FramesPerBuffer, s.Frequency), nil
	}
	return portaudio.OpenDefault(a.cfg.Channels, a.cfg.FramesPerBuffer, slog.Default())
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
