package audio

import (
	"errors"
	"math"
	"sync"
	"time"
)

// SyntheticSource generates an interleaved sine tone in real time.
// It stands in for a microphone on machines without one.
type SyntheticSource struct {
	format          Format
	frequency       float64
	amplitude       float32
	framesPerBuffer int

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	phase   float64
	running bool
}

// NewSyntheticSource creates a sine source with the given stream shape
func NewSyntheticSource(sampleRate float64, channels, framesPerBuffer int, frequency float64) *SyntheticSource {
	if channels < 1 {
		channels = 1
	}
	if framesPerBuffer < 1 {
		framesPerBuffer = 512
	}
	return &SyntheticSource{
		format: Format{
			SampleFormat: Float32,
			Channels:     channels,
			SampleRate:   sampleRate,
		},
		frequency:       frequency,
		amplitude:       0.5,
		framesPerBuffer: framesPerBuffer,
	}
}

// Format returns the configured stream shape
func (s *SyntheticSource) Format() Format {
	return s.format
}

// Start begins generating buffers at the configured sample rate
func (s *SyntheticSource) Start(handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("synthetic source already started")
	}
	if s.format.SampleRate <= 0 {
		return errors.New("synthetic source needs a positive sample rate")
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	period := time.Duration(float64(time.Second) * float64(s.framesPerBuffer) / s.format.SampleRate)
	go s.run(handler, period, s.stop, s.done)
	return nil
}

func (s *SyntheticSource) run(handler Handler, period time.Duration, stop, done chan struct{}) {
	defer close(done)

	buf := make([]float32, s.framesPerBuffer*s.format.Channels)
	step := 2 * math.Pi * s.frequency / s.format.SampleRate

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		for i := 0; i < s.framesPerBuffer; i++ {
			v := s.amplitude * float32(math.Sin(s.phase))
			for ch := 0; ch < s.format.Channels; ch++ {
				buf[i*s.format.Channels+ch] = v
			}
			s.phase = math.Mod(s.phase+step, 2*math.Pi)
		}
		handler(buf)
	}
}

// Stop halts generation and waits for the generator goroutine to exit
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	close(s.stop)
	<-s.done
	s.running = false
	return nil
}

// Close stops the source
func (s *SyntheticSource) Close() error {
	return s.Stop()
}
