// Package logging builds the logrus logger shared by the radiolink tools
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel     = "RADIOLINK_LOG_LEVEL"
	EnvLogTimestamp = "RADIOLINK_LOG_TIMESTAMP"
	EnvLogFile      = "RADIOLINK_LOG_FILE"
)

// Options control logger construction. Environment variables override them.
type Options struct {
	Level     logrus.Level
	Timestamp bool
	NoColor   bool

	// File, when set, receives the log through a size-rotated writer
	// instead of Output
	File       string
	MaxSizeMB  int
	MaxBackups int

	Output io.Writer
}

// DefaultOptions logs at info level with timestamps to stderr
func DefaultOptions() Options {
	return Options{
		Level:      logrus.InfoLevel,
		Timestamp:  true,
		MaxSizeMB:  10,
		MaxBackups: 3,
		Output:     os.Stderr,
	}
}

// New builds a logger from opts after applying environment overrides
func New(opts Options) *logrus.Logger {
	applyEnvOverrides(&opts)

	log := logrus.New()
	log.SetLevel(opts.Level)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: !opts.Timestamp,
		FullTimestamp:    opts.Timestamp,
		DisableColors:    opts.NoColor || opts.File != "",
	})

	switch {
	case opts.File != "":
		log.SetOutput(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		})
	case opts.Output != nil:
		log.SetOutput(opts.Output)
	}
	return log
}

// Discard returns a logger that drops everything
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func applyEnvOverrides(opts *Options) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		opts.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		opts.Timestamp = v
	}
	if f := strings.TrimSpace(os.Getenv(EnvLogFile)); f != "" {
		opts.File = f
	}
}

func parseLevel(raw string) (logrus.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return logrus.InfoLevel, false
	case "trace":
		return logrus.TraceLevel, true
	case "debug":
		return logrus.DebugLevel, true
	case "info":
		return logrus.InfoLevel, true
	case "warn", "warning":
		return logrus.WarnLevel, true
	case "error":
		return logrus.ErrorLevel, true
	case "off", "none", "panic":
		return logrus.PanicLevel, true
	default:
		return logrus.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
