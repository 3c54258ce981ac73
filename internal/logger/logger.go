// Package logger configures the process-wide zerolog logger with optional
// file rotation and redaction of credentials.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path, empty disables file output
	Console   bool   // write to stdout
	Pretty    bool   // human-friendly console format
	Redaction bool   // scrub credentials from output
	MaxSize   int    // MB before the log file rotates
	MaxAge    int    // days rotated files are kept
	Compress  bool   // gzip rotated files
}

// DefaultConfig returns the daemon's default logging setup.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}

// Logger wraps zerolog.Logger and owns the rotating file, if any.
type Logger struct {
	zl       zerolog.Logger
	closer   io.Closer
	redactor *Redactor
}

// New builds the logger and installs it as zerolog's global logger.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	sink, closer, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		sink = redactor.Wrap(sink)
	}

	zl := zerolog.New(sink).Level(level).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{zl: zl, closer: closer, redactor: redactor}, nil
}

func buildSink(cfg Config) (io.Writer, io.Closer, error) {
	var sinks []io.Writer

	if cfg.Console {
		if cfg.Pretty {
			sinks = append(sinks, zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			})
		} else {
			sinks = append(sinks, os.Stdout)
		}
	}

	var closer io.Closer
	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		sinks = append(sinks, rw)
		closer = rw
	}

	switch len(sinks) {
	case 0:
		return os.Stdout, nil, nil
	case 1:
		return sinks[0], closer, nil
	default:
		return io.MultiWriter(sinks...), closer, nil
	}
}

// Close releases the log file, if one is open.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// GetZerolog returns the underlying zerolog.Logger for components that take
// one directly.
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.zl
}

// With opens a child logger context.
func (l *Logger) With() zerolog.Context {
	return l.zl.With()
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }
