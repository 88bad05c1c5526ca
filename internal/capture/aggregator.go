package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/0xlemi/micnote/internal/audio"
	"github.com/0xlemi/micnote/internal/handoff"
)

// Default batching policy
const (
	DefaultThreshold = 100_000
	DefaultHeadroom  = 150_000
)

// ErrForwardFailed ends a session whose consumer stopped receiving
var ErrForwardFailed = errors.New("forwarding chunk to consumer failed")

// Flusher takes ownership of a full capture buffer. Flush must return
// without waiting for storage.
type Flusher interface {
	Flush(payload []byte, recordedAtMs int64)
}

// Result is one item on a session's chunk stream: a chunk or an error
type Result struct {
	Chunk audio.Chunk
	Err   error
}

// AggregatorConfig is the batching policy
type AggregatorConfig struct {
	// Threshold is the buffered size that triggers a flush
	Threshold int

	// Headroom is the capacity each fresh buffer is allocated with.
	// It should exceed Threshold by at least one chunk so that appends
	// up to the crossing chunk do not reallocate.
	Headroom int

	// FlushOnStop persists a partial buffer when the hand-off queue closes.
	// When false the partial buffer is dropped.
	FlushOnStop bool
}

// AggregatorStats are counters readable while Run is active
type AggregatorStats struct {
	Chunks   uint64
	Bytes    uint64
	Flushes  uint64
	Buffered int
}

// Aggregator drains the hand-off queue, batches chunks and forwards them.
// The capture buffer is owned by the Run goroutine; a flushed buffer belongs
// to the Flusher and is never touched again.
type Aggregator struct {
	cfg     AggregatorConfig
	flusher Flusher
	logger  *slog.Logger
	now     func() time.Time

	buf    []byte
	lastMs int64

	chunks   atomic.Uint64
	bytes    atomic.Uint64
	flushes  atomic.Uint64
	buffered atomic.Int64
}

// NewAggregator creates an aggregator flushing into flusher
func NewAggregator(cfg AggregatorConfig, flusher Flusher, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Headroom < cfg.Threshold {
		cfg.Headroom = cfg.Threshold + cfg.Threshold/2
	}
	return &Aggregator{
		cfg:     cfg,
		flusher: flusher,
		logger:  logger,
		now:     time.Now,
		buf:     make([]byte, 0, cfg.Headroom),
	}
}

// Run receives chunks until the queue is closed and drained. Each chunk is
// appended to the capture buffer, which is flushed once it reaches the
// threshold, then forwarded on out. out is closed when Run returns.
//
// Forwarding waits for the consumer; if ctx ends while waiting, Run returns
// ErrForwardFailed.
func (a *Aggregator) Run(ctx context.Context, in *handoff.Queue[audio.Chunk], out chan<- Result) error {
	defer close(out)

	for {
		chunk, err := in.Recv(ctx)
		if errors.Is(err, handoff.ErrClosed) {
			a.finish()
			return nil
		}
		if err != nil {
			err = fmt.Errorf("receive chunk: %w", err)
			select {
			case out <- Result{Err: err}:
			default:
			}
			return err
		}

		a.buf = append(a.buf, chunk...)
		a.chunks.Add(1)
		a.bytes.Add(uint64(len(chunk)))
		if len(a.buf) >= a.cfg.Threshold {
			a.flush()
		}
		a.buffered.Store(int64(len(a.buf)))

		select {
		case out <- Result{Chunk: chunk}:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrForwardFailed, ctx.Err())
		}
	}
}

// flush hands the current buffer to the flusher and starts a new one
func (a *Aggregator) flush() {
	payload := a.buf
	a.buf = make([]byte, 0, a.cfg.Headroom)

	ms := a.now().UnixMilli()
	if ms < a.lastMs {
		ms = a.lastMs
	}
	a.lastMs = ms

	a.flushes.Add(1)
	a.logger.Debug("flushing capture buffer", "bytes", len(payload), "recordedAtMs", ms)
	a.flusher.Flush(payload, ms)
}

func (a *Aggregator) finish() {
	if len(a.buf) == 0 {
		return
	}
	if a.cfg.FlushOnStop {
		a.flush()
	} else {
		a.logger.Debug("dropping partial capture buffer", "bytes", len(a.buf))
		a.buf = a.buf[:0]
	}
	a.buffered.Store(int64(len(a.buf)))
}

// Stats returns the aggregator counters
func (a *Aggregator) Stats() AggregatorStats {
	return AggregatorStats{
		Chunks:   a.chunks.Load(),
		Bytes:    a.bytes.Load(),
		Flushes:  a.flushes.Load(),
		Buffered: int(a.buffered.Load()),
	}
}
