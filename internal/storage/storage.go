// Package storage defines the persisted form of captured audio.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record id does not exist
var ErrNotFound = errors.New("record not found")

// Record is one flushed batch of mono S16LE audio
type Record struct {
	ID           int64
	SessionID    string
	RecordedAtMs int64
	SampleRate   int
	Payload      []byte
}

// RecordedAt returns the record timestamp as a time.Time
func (r Record) RecordedAt() time.Time {
	return time.UnixMilli(r.RecordedAtMs)
}

// Duration returns the length of audio held in the payload
func (r Record) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	samples := len(r.Payload) / 2
	return time.Duration(samples) * time.Second / time.Duration(r.SampleRate)
}

// Store persists records. Write is a blocking call and may be slow.
type Store interface {
	Write(ctx context.Context, r Record) error
	Close() error
}

// Summary describes a stored record without its payload
type Summary struct {
	ID           int64
	SessionID    string
	RecordedAtMs int64
	SampleRate   int
	Bytes        int
}

// Lister is implemented by stores that can enumerate and load records
type Lister interface {
	List(ctx context.Context, limit int) ([]Summary, error)
	Get(ctx context.Context, id int64) (Record, error)
}
