// Package logging configures the process-wide slog logger.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrLevel is returned for an unknown level name
var ErrLevel = errors.New("unexpected log level")

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Configure sets the default slog logger.
//
// Valid levels are "none", "error", "warn", "info" and "debug". With an empty
// file, text lines go to stderr. Otherwise JSON lines go to file, rotated by
// size. The returned Closer releases the file and is never nil.
func Configure(level, file string) (io.Closer, error) {
	handler, closer, err := newHandler(level, file, os.Stderr)
	if err != nil {
		return nopCloser{}, err
	}
	slog.SetDefault(slog.New(handler))
	return closer, nil
}

func newHandler(level, file string, stderr io.Writer) (slog.Handler, io.Closer, error) {
	opts := slog.HandlerOptions{}
	switch level {
	case "none":
		return slog.NewTextHandler(io.Discard, nil), nopCloser{}, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, nil, ErrLevel
	}

	if file == "" {
		return slog.NewTextHandler(stderr, &opts), nopCloser{}, nil
	}
	rotating := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return slog.NewJSONHandler(rotating, &opts), rotating, nil
}
