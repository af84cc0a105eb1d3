// Package logger builds the slog logger shared by the marketsync binaries.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, console
	Output       string // stdout, stderr, or file path
	EnableSource bool
	TimeFormat   string // console only
	Service      string // added to every record as "service"

	writer io.Writer
}

// Logger wraps slog.Logger and owns the log file when Output names one
type Logger struct {
	*slog.Logger
	file io.Closer
}

// New creates a new logger instance
func New(config *Config) (*Logger, error) {
	w, file, err := openOutput(config)
	if err != nil {
		return nil, err
	}

	logger := slog.New(newHandler(config, w))
	if config.Service != "" {
		logger = logger.With(slog.String("service", config.Service))
	}
	return &Logger{Logger: logger, file: file}, nil
}

// Close releases the log file. It is a no-op for stdout and stderr.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func openOutput(config *Config) (io.Writer, io.Closer, error) {
	if config.writer != nil {
		return config.writer, nil, nil
	}

	switch config.Output {
	case "stdout", "":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}

	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f, nil
}

func newHandler(config *Config, w io.Writer) slog.Handler {
	level := parseLevel(config.Level)

	if config.Format == "console" || config.Format == "" {
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  config.EnableSource,
			TimeFormat: timeFormat,
		})
	}

	// json and anything unrecognized
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: config.EnableSource,
	})
}

// parseLevel accepts slog level names in any case plus "warning". Unknown values mean info.
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
