package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xlemi/micnote/internal/meter"
	"github.com/0xlemi/micnote/internal/recorder"
	"github.com/0xlemi/micnote/internal/storage"
	"github.com/0xlemi/micnote/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const (
	uiLevelInterval       = 50 * time.Millisecond
	headlessLevelInterval = time.Second
)

func newRecordCmd(a *app) *cobra.Command {
	var (
		headless bool
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the configured source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, !headless); err != nil {
				return err
			}
			defer a.close()

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			if headless {
				return a.recordHeadless(cmd.Context(), store, duration)
			}
			return a.recordUI(store)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "record without the terminal UI until interrupted")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop a headless recording after this long")
	return cmd
}

func (a *app) recordUI(store storage.Store) error {
	var p *tea.Program
	rec := recorder.New(a.cfg, a.openSource, store, recorder.Options{
		LevelInterval: uiLevelInterval,
		Listener: recorder.Listener{
			OnLevel:      func(l meter.Level) { p.Send(ui.LevelMsg(l)) },
			OnEscalation: func(id string) { p.Send(ui.EscalationMsg{SessionID: id}) },
			OnEnd:        func(s recorder.Summary) { p.Send(ui.EndedMsg(s)) },
		},
	}, slog.Default())

	p = tea.NewProgram(ui.NewModel(rec), tea.WithAltScreen())
	_, runErr := p.Run()

	if rec.Recording() {
		if err := rec.Stop(); err != nil {
			slog.Error("stopping recording on exit", "err", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("running ui: %w", runErr)
	}
	return nil
}

func (a *app) recordHeadless(ctx context.Context, store storage.Store, duration time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger := slog.Default()
	rec := recorder.New(a.cfg, a.openSource, store, recorder.Options{
		LevelInterval: headlessLevelInterval,
		Listener: recorder.Listener{
			OnLevel: func(l meter.Level) {
				logger.Debug("input level", "db", l.DB, "peakDb", l.PeakDB, "frequency", l.Frequency, "note", l.Note.String())
			},
		},
	}, logger)

	if err := rec.Start(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Recording, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case <-rec.Done():
		logger.Warn("capture ended before stop was requested")
	}

	st, _ := rec.Stats()
	err := rec.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintf(os.Stderr, "Session %s: %d chunks, %d flushes, %d dropped\n",
		st.SessionID, st.Capture.Chunks, st.Capture.Flushes, st.Capture.Dropped)
	return nil
}
