// Package persist writes flushed capture buffers to storage off the capture path.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xlemi/micnote/internal/storage"
	"golang.org/x/sync/errgroup"
)

// ErrPersistenceFailing is returned by Wait once flushes have failed
// EscalateAfter times in a row
var ErrPersistenceFailing = errors.New("persistence failing repeatedly")

// Options controls retries and escalation
type Options struct {
	SessionID  string
	SampleRate int

	// MaxAttempts is the number of writes tried per flush (at least 1)
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// EscalateAfter is the number of consecutive failed flushes after which
	// the offload reports ErrPersistenceFailing. Zero never escalates.
	EscalateAfter int
}

// Stats counts flush outcomes
type Stats struct {
	Persisted uint64
	Failed    uint64
	InFlight  int64
}

// Offload runs each flush as its own goroutine so that storage latency
// never reaches the caller. Flushes may complete in any order.
type Offload struct {
	ctx    context.Context
	store  storage.Store
	opts   Options
	logger *slog.Logger
	group  errgroup.Group

	persisted   atomic.Uint64
	failed      atomic.Uint64
	inFlight    atomic.Int64
	consecutive atomic.Int64

	escalateOnce sync.Once
	escalated    chan struct{}
}

// New creates an offload writing to store. ctx bounds retries: once it is
// cancelled, pending backoff waits end and the flush is counted as failed.
func New(ctx context.Context, store storage.Store, opts Options, logger *slog.Logger) *Offload {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Offload{
		ctx:       ctx,
		store:     store,
		opts:      opts,
		logger:    logger.With("component", "persist"),
		escalated: make(chan struct{}),
	}
}

// Flush persists payload in the background and returns immediately.
// Ownership of payload passes to the offload.
func (o *Offload) Flush(payload []byte, recordedAtMs int64) {
	o.inFlight.Add(1)
	o.group.Go(func() error {
		defer o.inFlight.Add(-1)
		return o.write(storage.Record{
			SessionID:    o.opts.SessionID,
			RecordedAtMs: recordedAtMs,
			SampleRate:   o.opts.SampleRate,
			Payload:      payload,
		})
	})
}

func (o *Offload) write(r storage.Record) error {
	b := newBackoff(o.opts.InitialBackoff, o.opts.MaxBackoff)

	var err error
retry:
	for attempt := 1; ; attempt++ {
		if err = o.store.Write(o.ctx, r); err == nil {
			o.persisted.Add(1)
			o.consecutive.Store(0)
			o.logger.Debug("persisted capture record", "recordedAtMs", r.RecordedAtMs, "bytes", len(r.Payload), "attempt", attempt)
			return nil
		}
		if attempt >= o.opts.MaxAttempts {
			break
		}

		delay := b.next()
		o.logger.Warn("capture record write failed, retrying", "recordedAtMs", r.RecordedAtMs, "attempt", attempt, "delay", delay, "err", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-o.ctx.Done():
			timer.Stop()
			err = errors.Join(err, o.ctx.Err())
			break retry
		}
	}

	o.failed.Add(1)
	n := o.consecutive.Add(1)
	o.logger.Error("dropping capture record after failed writes", "recordedAtMs", r.RecordedAtMs, "bytes", len(r.Payload), "consecutiveFailures", n, "err", err)

	if o.opts.EscalateAfter > 0 && n >= int64(o.opts.EscalateAfter) {
		o.escalateOnce.Do(func() {
			o.logger.Error("persistence failing repeatedly", "consecutiveFailures", n)
			close(o.escalated)
		})
		return fmt.Errorf("%w: %d consecutive flushes lost: %w", ErrPersistenceFailing, n, err)
	}
	return nil
}

// Escalated is closed once persistence has failed EscalateAfter times in a row
func (o *Offload) Escalated() <-chan struct{} {
	return o.escalated
}

// Wait blocks until every started flush has finished
func (o *Offload) Wait() error {
	return o.group.Wait()
}

// Stats returns the current flush counters
func (o *Offload) Stats() Stats {
	return Stats{
		Persisted: o.persisted.Load(),
		Failed:    o.failed.Load(),
		InFlight:  o.inFlight.Load(),
	}
}
