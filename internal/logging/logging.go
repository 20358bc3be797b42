// Package logging provides application-wide logging configuration.
package logging

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var debugEnabled bool

// Init initializes the global logger.
func Init(debug bool) {
	debugEnabled = debug
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

// DebugEnabled reports whether debug logging is enabled.
func DebugEnabled() bool {
	return debugEnabled
}

// FileOptions controls rotation of a file-backed logger.
type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewFileLogger returns a JSON logger writing to a size-rotated file.
// The returned closer flushes and closes the underlying file.
func NewFileLogger(path string, opts FileOptions) (zerolog.Logger, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), func() error { return nil }, err
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	return logger, w.Close, nil
}
