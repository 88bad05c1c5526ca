// Package capture runs a microphone capture session: a real-time callback
// feeding a hand-off queue, an aggregator batching chunks for persistence,
// and a forwarding channel to the consumer.
package capture

import (
	"context"
	"errors"
	"log/slog"

	"github.com/0xlemi/micnote/internal/audio"
	"github.com/0xlemi/micnote/internal/handoff"
	"github.com/google/uuid"
)

// Config configures a session
type Config struct {
	// ID names the session; a random id is generated when empty
	ID         string
	Aggregator AggregatorConfig
	Queue      handoff.Options
}

// Stats is a snapshot of a running session
type Stats struct {
	Chunks    uint64
	Bytes     uint64
	Flushes   uint64
	Buffered  int
	Backlog   int
	HighWater int
	Dropped   uint64
}

// Session is one capture from start to stop
type Session struct {
	ID     string
	Format audio.Format

	driver *Driver
	queue  *handoff.Queue[audio.Chunk]
	agg    *Aggregator
	out    chan Result
	cancel context.CancelFunc
	logger *slog.Logger

	done chan struct{}
	err  error
}

// Start begins capturing from src. Full buffers go to flusher; every chunk
// is also delivered on Chunks, which the caller must drain until it is
// closed.
func Start(ctx context.Context, src audio.Source, flusher Flusher, cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	logger = logger.With("session", cfg.ID)

	if cfg.Queue.HighWater > 0 && cfg.Queue.OnHighWater == nil {
		cfg.Queue.OnHighWater = func(backlog int) {
			logger.Warn("capture backlog above high water mark", "backlog", backlog, "highWater", cfg.Queue.HighWater)
		}
	}

	driver, queue, err := StartCapture(src, cfg.Queue, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:     cfg.ID,
		Format: src.Format(),
		driver: driver,
		queue:  queue,
		agg:    NewAggregator(cfg.Aggregator, flusher, logger),
		out:    make(chan Result, 1),
		cancel: cancel,
		logger: logger,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		s.err = s.agg.Run(ctx, queue, s.out)
		if s.err != nil {
			logger.Error("capture session ended with error", "err", s.err)
			driver.Stop()
		}
	}()
	return s, nil
}

// Chunks returns the forwarding channel. It holds at most one chunk, so a
// slow reader holds back the aggregator rather than the audio callback.
// The channel is closed when the session ends.
func (s *Session) Chunks() <-chan Result {
	return s.out
}

// Done is closed when the aggregator has finished
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop ends the session: the callback stops, the stream is stopped, and the
// aggregator drains the queue and exits. Chunks must keep being received
// until Stop returns.
func (s *Session) Stop() error {
	stopErr := s.driver.Stop()
	<-s.done
	s.cancel()
	return errors.Join(stopErr, s.err)
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() Stats {
	a := s.agg.Stats()
	return Stats{
		Chunks:    a.Chunks,
		Bytes:     a.Bytes,
		Flushes:   a.Flushes,
		Buffered:  a.Buffered,
		Backlog:   s.queue.Len(),
		HighWater: s.queue.HighWater(),
		Dropped:   s.queue.Dropped(),
	}
}
