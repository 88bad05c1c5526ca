package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CheckFormat reports whether native samples of format f can be converted
func CheckFormat(f SampleFormat) error {
	if f != Float32 {
		return fmt.Errorf("%w: %s", ErrUnsupportedSampleFormat, f)
	}
	return nil
}

// Convert turns an interleaved native buffer into a mono S16LE chunk.
// Only the first channel of each frame is kept; channels are not averaged.
// The result holds ceil(len(samples)/channels) samples.
func Convert(samples []float32, channels int) Chunk {
	if channels < 1 {
		channels = 1
	}

	frames := (len(samples) + channels - 1) / channels
	out := make(Chunk, frames*2)
	for i, j := 0, 0; i < len(samples); i, j = i+channels, j+2 {
		binary.LittleEndian.PutUint16(out[j:], uint16(sampleToInt16(samples[i])))
	}
	return out
}

// sampleToInt16 scales a [-1, 1] float sample to int16, saturating
func sampleToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	v := float64(s) * 32768
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	if v <= math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
