// Package recorder starts and stops capture sessions on request and keeps
// their output moving: chunks are metered for display while full buffers are
// persisted in the background.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0xlemi/micnote/internal/audio"
	"github.com/0xlemi/micnote/internal/capture"
	"github.com/0xlemi/micnote/internal/config"
	"github.com/0xlemi/micnote/internal/meter"
	"github.com/0xlemi/micnote/internal/persist"
	"github.com/0xlemi/micnote/internal/storage"
	"github.com/google/uuid"
)

var (
	ErrAlreadyRecording = errors.New("a capture session is already running")
	ErrNotRecording     = errors.New("no capture session is running")
)

// SourceFactory opens the input to record from
type SourceFactory func() (audio.Source, error)

// Stats combines session and persistence counters
type Stats struct {
	SessionID string
	Format    audio.Format
	Started   time.Time
	Capture   capture.Stats
	Persist   persist.Stats
	Escalated bool
}

// Summary is reported once a session has been stopped
type Summary struct {
	Stats
	Err error
}

// Listener receives recorder events. Calls come from the recorder's consumer
// goroutine and must not block for long.
type Listener struct {
	OnLevel      func(meter.Level)
	OnEscalation func(sessionID string)
	OnEnd        func(Summary)
}

// Options tunes a Recorder
type Options struct {
	Listener Listener

	// LevelInterval limits how often OnLevel is called. Zero reports every
	// chunk.
	LevelInterval time.Duration
}

// Recorder runs at most one session at a time against a shared store
type Recorder struct {
	cfg    config.Config
	open   SourceFactory
	store  storage.Store
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	active   *recording
	stopping bool
}

type recording struct {
	id      string
	started time.Time
	src     audio.Source
	session *capture.Session
	offload *persist.Offload
	cancel  context.CancelFunc

	consumed chan struct{}
}

// New creates a Recorder. The store is shared by every session and is not
// closed by the recorder.
func New(cfg config.Config, open SourceFactory, store storage.Store, opts Options, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		open:   open,
		store:  store,
		opts:   opts,
		logger: logger.With("component", "recorder"),
	}
}

// Start opens the source and begins a new session
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return ErrAlreadyRecording
	}

	src, err := r.open()
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	id := uuid.NewString()
	format := src.Format()
	logger := r.logger.With("session", id)

	ctx, cancel := context.WithCancel(context.Background())
	offload := persist.New(ctx, r.store, r.cfg.PersistOptions(id, int(format.SampleRate)), logger)
	session, err := capture.Start(ctx, src, offload, capture.Config{
		ID:         id,
		Aggregator: r.cfg.Aggregator(),
		Queue:      r.cfg.QueueOptions(),
	}, logger)
	if err != nil {
		cancel()
		src.Close()
		return err
	}

	rec := &recording{
		id:       id,
		started:  time.Now(),
		src:      src,
		session:  session,
		offload:  offload,
		cancel:   cancel,
		consumed: make(chan struct{}),
	}
	r.active = rec
	go r.consume(rec, format.SampleRate, logger)

	logger.Info("recording started", "format", format.String())
	return nil
}

// consume drains the session's chunks until the session ends
func (r *Recorder) consume(rec *recording, sampleRate float64, logger *slog.Logger) {
	defer close(rec.consumed)

	chunks := rec.session.Chunks()
	escalation := rec.offload.Escalated()
	var last time.Time
	for {
		select {
		case res, ok := <-chunks:
			if !ok {
				return
			}
			if res.Err != nil {
				logger.Error("capture chunk error", "err", res.Err)
				continue
			}
			if r.opts.Listener.OnLevel == nil {
				continue
			}
			if r.opts.LevelInterval > 0 && time.Since(last) < r.opts.LevelInterval {
				continue
			}
			last = time.Now()
			r.opts.Listener.OnLevel(meter.Analyze(res.Chunk, sampleRate))

		case <-escalation:
			escalation = nil
			logger.Error("capture records are being lost, check storage")
			if r.opts.Listener.OnEscalation != nil {
				r.opts.Listener.OnEscalation(rec.id)
			}
		}
	}
}

// Stop ends the running session, waits for pending writes and closes the
// source. The recorder lock is not held while the session drains, so level
// listeners may keep calling Stats.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	rec := r.active
	if rec == nil || r.stopping {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.stopping = true
	r.mu.Unlock()

	stopErr := rec.session.Stop()
	<-rec.consumed
	persistErr := rec.offload.Wait()
	rec.cancel()
	closeErr := rec.src.Close()

	summary := Summary{Stats: statsOf(rec)}
	summary.Err = errors.Join(stopErr, persistErr, closeErr)

	r.mu.Lock()
	r.active = nil
	r.stopping = false
	r.mu.Unlock()

	r.logger.Info("recording stopped",
		"session", rec.id,
		"chunks", summary.Capture.Chunks,
		"flushes", summary.Capture.Flushes,
		"persisted", summary.Persist.Persisted,
		"failed", summary.Persist.Failed,
		"dropped", summary.Capture.Dropped,
		"highWater", summary.Capture.HighWater,
	)
	if r.opts.Listener.OnEnd != nil {
		r.opts.Listener.OnEnd(summary)
	}
	return summary.Err
}

// Recording reports whether a session is running and not being stopped
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil && !r.stopping
}

// Stats returns counters for the running session
func (r *Recorder) Stats() (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Stats{}, false
	}
	return statsOf(r.active), true
}

func statsOf(rec *recording) Stats {
	st := Stats{
		SessionID: rec.id,
		Format:    rec.session.Format,
		Started:   rec.started,
		Capture:   rec.session.Stats(),
		Persist:   rec.offload.Stats(),
	}
	select {
	case <-rec.offload.Escalated():
		st.Escalated = true
	default:
	}
	return st
}

// Done returns a channel closed when the running session's output has ended,
// or nil when nothing is recording. A session ends early when its consumer
// fails; Stop must still be called.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	return r.active.consumed
}
