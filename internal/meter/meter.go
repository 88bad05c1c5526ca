// Package meter computes display levels for captured PCM chunks.
package meter

import (
	"encoding/binary"
	"math"
	"math/cmplx"

	"github.com/0xlemi/micnote/internal/audio"
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// MinDB is the floor reported for silence
const MinDB = -60.0

const (
	minFrequency = 50.0
	maxFrequency = 4000.0

	// Below this RMS the chunk is treated as silence and no frequency is
	// estimated.
	silenceRMS = 0.005
)

// Level describes one chunk
type Level struct {
	RMS       float64 // 0..1
	DB        float64 // RMS in dBFS, floored at MinDB
	PeakDB    float64 // absolute peak in dBFS, floored at MinDB
	Frequency float64 // dominant frequency in Hz, 0 when silent
	Note      Note    // nearest note to Frequency, zero when silent
	Samples   int
}

// Silent reports whether the chunk carried no usable signal
func (l Level) Silent() bool {
	return l.Frequency == 0
}

// Analyze decodes a mono S16LE chunk and measures it
func Analyze(chunk audio.Chunk, sampleRate float64) Level {
	n := chunk.Samples()
	lvl := Level{DB: MinDB, PeakDB: MinDB, Samples: n}
	if n == 0 {
		return lvl
	}

	samples := make([]float64, n)
	sumSquares := 0.0
	peak := 0.0
	for i := range samples {
		v := float64(int16(binary.LittleEndian.Uint16(chunk[i*2:]))) / 32768
		samples[i] = v
		sumSquares += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	lvl.RMS = math.Sqrt(sumSquares / float64(n))
	lvl.DB = toDB(lvl.RMS)
	lvl.PeakDB = toDB(peak)

	if lvl.RMS < silenceRMS || sampleRate <= 0 || n < 64 {
		return lvl
	}
	lvl.Frequency = dominantFrequency(samples, sampleRate)
	if lvl.Frequency > 0 {
		lvl.Note = NearestNote(lvl.Frequency)
	}
	return lvl
}

func toDB(v float64) float64 {
	if v <= 0 {
		return MinDB
	}
	db := 20 * math.Log10(v)
	if db < MinDB {
		return MinDB
	}
	return db
}

// dominantFrequency windows the samples, zero-pads them to a power of two
// and returns the interpolated frequency of the strongest bin.
func dominantFrequency(samples []float64, sampleRate float64) float64 {
	w := window.Hann(len(samples))
	size := 1
	for size < len(samples) {
		size <<= 1
	}
	padded := make([]float64, size)
	for i, s := range samples {
		padded[i] = s * w[i]
	}

	spectrum := fft.FFTReal(padded)
	half := spectrum[:len(spectrum)/2]
	binHz := sampleRate / float64(len(spectrum))

	minBin := int(minFrequency / binHz)
	if minBin < 1 {
		minBin = 1
	}
	maxBin := int(maxFrequency / binHz)
	if maxBin > len(half)-2 {
		maxBin = len(half) - 2
	}
	if minBin > maxBin {
		return 0
	}

	best, bestMag := 0, 0.0
	for i := minBin; i <= maxBin; i++ {
		if m := cmplx.Abs(half[i]); m > bestMag {
			best, bestMag = i, m
		}
	}
	if best == 0 {
		return 0
	}

	// quadratic interpolation around the peak bin
	prev := cmplx.Abs(half[best-1])
	next := cmplx.Abs(half[best+1])
	delta := 0.0
	if d := prev - 2*bestMag + next; d != 0 {
		delta = 0.5 * (prev - next) / d
	}
	return (float64(best) + delta) * binHz
}
