package capture

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/0xlemi/micnote/internal/audio"
	"github.com/0xlemi/micnote/internal/handoff"
)

type flushCall struct {
	payload      []byte
	recordedAtMs int64
}

type fakeFlusher struct {
	mu    sync.Mutex
	calls []flushCall
}

func (f *fakeFlusher) Flush(payload []byte, recordedAtMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, flushCall{payload: payload, recordedAtMs: recordedAtMs})
}

func (f *fakeFlusher) flushes() []flushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]flushCall(nil), f.calls...)
}

func filled(n int, b byte) audio.Chunk {
	return audio.Chunk(bytes.Repeat([]byte{b}, n))
}

// runToEnd pushes chunks, closes the queue and drains the aggregator
func runToEnd(t *testing.T, agg *Aggregator, chunks ...audio.Chunk) []Result {
	t.Helper()
	q := handoff.New[audio.Chunk](handoff.Options{})
	for _, c := range chunks {
		if err := q.Push(c); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	q.Close()

	out := make(chan Result, 1)
	errc := make(chan error, 1)
	go func() { errc <- agg.Run(context.Background(), q, out) }()

	var results []Result
	for r := range out {
		results = append(results, r)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	return results
}

func TestAggregatorFlushesOnCrossingChunk(t *testing.T) {
	f := &fakeFlusher{}
	agg := NewAggregator(AggregatorConfig{Threshold: 100_000, Headroom: 150_000}, f, nil)

	a, b, c := filled(40_000, 'a'), filled(40_000, 'b'), filled(40_000, 'c')
	results := runToEnd(t, agg, a, b, c)

	if len(results) != 3 {
		t.Fatalf("Expected 3 forwarded chunks, got %d", len(results))
	}
	calls := f.flushes()
	if len(calls) != 1 {
		t.Fatalf("Expected exactly 1 flush, got %d", len(calls))
	}
	want := bytes.Join([][]byte{a, b, c}, nil)
	if len(calls[0].payload) != 120_000 || !bytes.Equal(calls[0].payload, want) {
		t.Errorf("Expected flushed payload A|B|C of 120000 bytes, got %d bytes", len(calls[0].payload))
	}
	if st := agg.Stats(); st.Buffered != 0 || st.Flushes != 1 || st.Chunks != 3 || st.Bytes != 120_000 {
		t.Errorf("Unexpected stats after flush: %+v", st)
	}
}

func TestAggregatorDropsPartialBufferOnClose(t *testing.T) {
	f := &fakeFlusher{}
	agg := NewAggregator(AggregatorConfig{Threshold: 100_000, Headroom: 150_000}, f, nil)

	results := runToEnd(t, agg, filled(33_333, 1), filled(33_333, 2), filled(33_333, 3))

	if len(results) != 3 {
		t.Errorf("Expected 3 forwarded chunks, got %d", len(results))
	}
	if calls := f.flushes(); len(calls) != 0 {
		t.Errorf("Expected no flush for 99999 buffered bytes, got %d", len(calls))
	}
	if st := agg.Stats(); st.Buffered != 0 {
		t.Errorf("Expected partial buffer to be discarded, %d bytes left", st.Buffered)
	}
}

func TestAggregatorFlushOnStop(t *testing.T) {
	f := &fakeFlusher{}
	agg := NewAggregator(AggregatorConfig{Threshold: 100_000, Headroom: 150_000, FlushOnStop: true}, f, nil)

	runToEnd(t, agg, filled(50_000, 1), filled(49_999, 2))

	calls := f.flushes()
	if len(calls) != 1 || len(calls[0].payload) != 99_999 {
		t.Fatalf("Expected one flush of 99999 bytes on stop, got %d flushes", len(calls))
	}
}

func TestAggregatorSingleCrossingFlushesConcatenation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const threshold = 10_000

	for round := 0; round < 20; round++ {
		f := &fakeFlusher{}
		agg := NewAggregator(AggregatorConfig{Threshold: threshold, Headroom: threshold * 2}, f, nil)

		var before []audio.Chunk
		total := 0
		for total < threshold {
			c := filled(1+rng.Intn(3000), byte(len(before)))
			before = append(before, c)
			total += len(c)
		}
		// trailing input that stays below a second crossing
		var after []audio.Chunk
		for i := 0; i < 3; i++ {
			after = append(after, filled(1+rng.Intn(threshold/4), 0xff))
		}

		runToEnd(t, agg, append(append([]audio.Chunk{}, before...), after...)...)

		calls := f.flushes()
		if len(calls) != 1 {
			t.Fatalf("Round %d: expected 1 flush, got %d", round, len(calls))
		}
		var want []byte
		for _, c := range before {
			want = append(want, c...)
		}
		if !bytes.Equal(calls[0].payload, want) {
			t.Fatalf("Round %d: flushed payload is not the ordered concatenation of %d chunks", round, len(before))
		}
	}
}

func TestAggregatorKeepsHeadroomUnderSteadyInput(t *testing.T) {
	f := &fakeFlusher{}
	agg := NewAggregator(AggregatorConfig{Threshold: 100_000, Headroom: 150_000}, f, nil)

	chunks := make([]audio.Chunk, 250)
	for i := range chunks {
		chunks[i] = filled(1000, byte(i))
	}
	runToEnd(t, agg, chunks...)

	calls := f.flushes()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 flushes, got %d", len(calls))
	}
	for i, c := range calls {
		if len(c.payload) != 100_000 {
			t.Errorf("Flush %d: expected 100000 bytes, got %d", i, len(c.payload))
		}
		if cap(c.payload) != 150_000 {
			t.Errorf("Flush %d: expected capacity to stay at headroom 150000, got %d", i, cap(c.payload))
		}
	}
}

func TestAggregatorTimestampsNeverDecrease(t *testing.T) {
	f := &fakeFlusher{}
	agg := NewAggregator(AggregatorConfig{Threshold: 10, Headroom: 20}, f, nil)

	base := time.UnixMilli(1_000_000)
	offsets := []time.Duration{0, -5 * time.Second, 3 * time.Millisecond, -time.Millisecond}
	i := 0
	agg.now = func() time.Time {
		ts := base.Add(offsets[i%len(offsets)])
		i++
		return ts
	}

	runToEnd(t, agg, filled(10, 1), filled(10, 2), filled(10, 3), filled(10, 4))

	calls := f.flushes()
	if len(calls) != 4 {
		t.Fatalf("Expected 4 flushes, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if calls[i].recordedAtMs < calls[i-1].recordedAtMs {
			t.Errorf("Timestamp decreased: %d after %d", calls[i].recordedAtMs, calls[i-1].recordedAtMs)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not reached in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestForwardingBackpressureDoesNotBlockProducer(t *testing.T) {
	f := &fakeFlusher{}
	agg := NewAggregator(AggregatorConfig{Threshold: 100_000, Headroom: 150_000}, f, nil)
	q := handoff.New[audio.Chunk](handoff.Options{})
	out := make(chan Result, 1)

	errc := make(chan error, 1)
	go func() { errc <- agg.Run(context.Background(), q, out) }()

	// First chunk fills the forwarding slot, second leaves the aggregator
	// suspended on send.
	q.Push(filled(10, 1))
	q.Push(filled(10, 2))
	waitFor(t, func() bool { return agg.Stats().Chunks == 2 && len(out) == 1 })

	const burst = 5000
	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		for i := 0; i < burst; i++ {
			if err := q.Push(filled(10, 3)); err != nil {
				t.Errorf("Push failed during backpressure: %v", err)
				return
			}
		}
	}()
	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("Producer blocked while the aggregator was suspended")
	}

	if got := agg.Stats().Chunks; got != 2 {
		t.Errorf("Expected aggregator to stay suspended at 2 chunks, got %d", got)
	}
	if q.Len() != burst {
		t.Errorf("Expected %d chunks queued behind the aggregator, got %d", burst, q.Len())
	}

	q.Close()
	n := 0
	for range out {
		n++
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if n != burst+2 {
		t.Errorf("Expected %d forwarded chunks, got %d", burst+2, n)
	}
}

func TestForwardFailureEndsRun(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{}, &fakeFlusher{}, nil)
	q := handoff.New[audio.Chunk](handoff.Options{})
	out := make(chan Result, 1)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- agg.Run(ctx, q, out) }()

	q.Push(filled(4, 1))
	q.Push(filled(4, 2))
	waitFor(t, func() bool { return agg.Stats().Chunks == 2 })
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrForwardFailed) {
			t.Errorf("Expected ErrForwardFailed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not end after the consumer went away")
	}
}

func TestNewAggregatorDefaults(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{}, &fakeFlusher{}, nil)
	if agg.cfg.Threshold != DefaultThreshold {
		t.Errorf("Expected default threshold %d, got %d", DefaultThreshold, agg.cfg.Threshold)
	}
	if agg.cfg.Headroom != DefaultHeadroom {
		t.Errorf("Expected default headroom %d, got %d", DefaultHeadroom, agg.cfg.Headroom)
	}
}
