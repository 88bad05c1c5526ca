package audio

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSyntheticSourceDelivers(t *testing.T) {
	src := NewSyntheticSource(16000, 2, 160, 1000)
	if f := src.Format(); f.SampleFormat != Float32 || f.Channels != 2 || f.SampleRate != 16000 {
		t.Fatalf("Unexpected format %v", f)
	}

	var calls atomic.Int32
	var badLen atomic.Bool
	err := src.Start(func(samples []float32) {
		if len(samples) != 320 {
			badLen.Store(true)
		}
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(func([]float32) {}); err == nil {
		t.Error("Expected second Start to fail")
	}

	time.Sleep(60 * time.Millisecond)
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	n := calls.Load()
	if n == 0 {
		t.Fatal("Expected buffers before Stop")
	}
	if badLen.Load() {
		t.Error("Expected 160 interleaved stereo frames per buffer")
	}

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != n {
		t.Error("Handler called after Stop returned")
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close after Stop failed: %v", err)
	}
}

func TestSyntheticSourceRejectsZeroRate(t *testing.T) {
	src := NewSyntheticSource(0, 1, 10, 440)
	if err := src.Start(func([]float32) {}); err == nil {
		t.Error("Expected Start to fail without a sample rate")
	}
}
