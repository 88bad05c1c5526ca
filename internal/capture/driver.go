package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/0xlemi/micnote/internal/audio"
	"github.com/0xlemi/micnote/internal/handoff"
)

// Driver installs the real-time callback on a source and owns the stream
// for the length of one session.
type Driver struct {
	src      audio.Source
	queue    *handoff.Queue[audio.Chunk]
	channels int
	logger   *slog.Logger

	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// StartCapture starts src and returns the driver together with the queue
// that receives one converted chunk per callback.
func StartCapture(src audio.Source, opts handoff.Options, logger *slog.Logger) (*Driver, *handoff.Queue[audio.Chunk], error) {
	if logger == nil {
		logger = slog.Default()
	}

	format := src.Format()
	if err := audio.CheckFormat(format.SampleFormat); err != nil {
		return nil, nil, err
	}

	d := &Driver{
		src:      src,
		queue:    handoff.New[audio.Chunk](opts),
		channels: format.Channels,
		logger:   logger,
	}
	if err := src.Start(d.onSamples); err != nil {
		d.queue.Close()
		return nil, nil, fmt.Errorf("start capture: %w", err)
	}

	logger.Info("capture started", "format", format.String())
	return d, d.queue, nil
}

// onSamples runs on the source's real-time thread: no locks, no I/O.
// Refused pushes are counted by the queue and otherwise ignored.
func (d *Driver) onSamples(samples []float32) {
	if d.stopped.Load() || len(samples) == 0 {
		return
	}
	d.queue.Push(audio.Convert(samples, d.channels))
}

// Stop raises the stop flag, stops the stream and closes the queue.
// It is safe to call more than once.
func (d *Driver) Stop() error {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		if err := d.src.Stop(); err != nil {
			d.stopErr = fmt.Errorf("stop capture: %w", err)
		}
		d.queue.Close()
		d.logger.Info("capture stopped", "dropped", d.queue.Dropped(), "highWater", d.queue.HighWater())
	})
	return d.stopErr
}
