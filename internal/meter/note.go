package meter

import (
	"fmt"
	"math"
)

var noteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Note is the equal-tempered note nearest to a frequency (A4 = 440Hz)
type Note struct {
	Name   string  // e.g. "A", "C#"
	Octave int     // 4 for the octave starting at middle C
	Cents  float64 // deviation from the exact pitch, -50..+50
}

func (n Note) String() string {
	if n.Name == "" {
		return "-"
	}
	return fmt.Sprintf("%s%d", n.Name, n.Octave)
}

// NearestNote maps a positive frequency to a note
func NearestNote(frequency float64) Note {
	if frequency <= 0 {
		return Note{}
	}
	semitones := 12 * math.Log2(frequency/440.0)
	rounded := math.Round(semitones)

	// A4 is 9 semitones above C4
	index := int(math.Mod(rounded+9, 12))
	if index < 0 {
		index += 12
	}
	return Note{
		Name:   noteNames[index],
		Octave: 4 + int(math.Floor((rounded+9)/12)),
		Cents:  100 * (semitones - rounded),
	}
}
