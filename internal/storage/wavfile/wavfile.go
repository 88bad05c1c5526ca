// Package wavfile stores capture records as individual mono 16-bit WAV files.
package wavfile

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/0xlemi/micnote/internal/storage"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

const bitDepth = 16

// Store writes each record to its own file in a directory
type Store struct {
	dir string
}

// Open creates dir if needed and returns a store writing into it
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Write encodes r into <dir>/<recorded_at_ms>-<id>.wav
func (s *Store) Write(ctx context.Context, r storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := fmt.Sprintf("%d-%s.wav", r.RecordedAtMs, uuid.NewString()[:8])
	return WriteFile(filepath.Join(s.dir, name), r)
}

// Close is a no-op; every write closes its own file
func (s *Store) Close() error {
	return nil
}

// WriteFile encodes the record payload as a WAV file at path.
// The file is written under a temporary name and renamed once complete.
func WriteFile(path string, r storage.Record) error {
	if r.SampleRate <= 0 {
		return fmt.Errorf("write %s: invalid sample rate %d", path, r.SampleRate)
	}

	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	enc := wav.NewEncoder(f, r.SampleRate, bitDepth, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: r.SampleRate},
		Data:           decodeS16LE(r.Payload),
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// ReadFile decodes a mono 16-bit WAV file back into S16LE bytes and its rate
func ReadFile(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}

	out := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out, int(dec.SampleRate), nil
}

func decodeS16LE(payload []byte) []int {
	data := make([]int, len(payload)/2)
	for i := range data {
		data[i] = int(int16(binary.LittleEndian.Uint16(payload[i*2:])))
	}
	return data
}
