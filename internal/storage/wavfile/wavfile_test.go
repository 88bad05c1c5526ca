package wavfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/0xlemi/micnote/internal/storage"
)

func samplePayload(values ...int16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	payload := samplePayload(0, 1000, -1000, 32767, -32768, 12)

	err := WriteFile(path, storage.Record{SampleRate: 16000, Payload: payload})
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, rate, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Expected %v, got %v", payload, got)
	}
	if _, err := os.Stat(path + ".partial"); !os.IsNotExist(err) {
		t.Error("Temporary file left behind")
	}
}

func TestStoreWriteNamesFilesByTimestamp(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := s.Write(ctx, storage.Record{RecordedAtMs: 1234, SampleRate: 8000, Payload: samplePayload(1, 2, 3)})
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 files for equal timestamps, got %d", len(entries))
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "1234-") || !strings.HasSuffix(e.Name(), ".wav") {
			t.Errorf("Unexpected file name %s", e.Name())
		}
	}
}

func TestWriteFileRejectsBadRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := WriteFile(path, storage.Record{Payload: samplePayload(1)}); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}
