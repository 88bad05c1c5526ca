package audio

import (
	"errors"
	"fmt"
)

// Errors reported when a capture session cannot be set up
var (
	ErrDeviceUnavailable       = errors.New("no default audio input device")
	ErrUnsupportedSampleFormat = errors.New("unsupported native sample format")
)

// Chunk is one quantum of mono 16-bit little-endian PCM.
// A chunk is never modified after it is created.
type Chunk []byte

// Samples returns the number of 16-bit samples in the chunk
func (c Chunk) Samples() int {
	return len(c) / 2
}

// SampleFormat is the native sample encoding negotiated with a device
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	Float32
	Int16
	Int32
	Uint8
)

func (f SampleFormat) String() string {
	switch f {
	case Float32:
		return "f32"
	case Int16:
		return "i16"
	case Int32:
		return "i32"
	case Uint8:
		return "u8"
	default:
		return "unknown"
	}
}

// Format describes the stream configuration a source delivers
type Format struct {
	SampleFormat SampleFormat
	Channels     int
	SampleRate   float64
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dch %.0fHz", f.SampleFormat, f.Channels, f.SampleRate)
}

// Handler receives each native buffer delivered by a source.
// It runs on the source's callback thread and must not block.
// The samples slice is only valid for the duration of the call.
type Handler func(samples []float32)

// Source defines the interface for a platform audio input
type Source interface {
	// Format returns the negotiated stream configuration
	Format() Format

	// Start opens the stream and begins delivering buffers to handler
	Start(handler Handler) error

	// Stop halts the stream. No handler call is running or started
	// once Stop returns.
	Stop() error

	// Close releases the platform resources held by the source
	Close() error
}
