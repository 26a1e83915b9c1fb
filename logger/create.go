// Package logger builds the zerolog loggers used across pori.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	fallbacklog "github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	consoleTimeFormat = time.RFC3339

	dirPermMode = 0o744

	defaultRollingMaxSizeMB = 20
	defaultRollingMaxFiles  = 5
	defaultRollingMaxDays   = 28
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

// Config selects the sinks and level for a logger.
type Config struct {
	// MinLevel is a zerolog level name (trace, debug, info, warn, error).
	MinLevel string
	// NoColor disables ANSI colors on the console sink.
	NoColor bool
	// DisableConsole drops the console sink entirely.
	DisableConsole bool
	// Filename, when set, adds a size-rotated file sink.
	Filename string
}

// resilientMultiWriter never propagates a single sink's write error so
// one broken sink cannot silence the others.
type resilientMultiWriter struct {
	level   zerolog.Level
	writers []io.Writer
}

func (t resilientMultiWriter) Write(p []byte) (int, error) {
	for _, w := range t.writers {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

func (t resilientMultiWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if t.level <= level {
		for _, w := range t.writers {
			_, _ = w.Write(p)
		}
	}
	return len(p), nil
}

func fallbackLogger(err error) *zerolog.Logger {
	failLog := fallbacklog.With().Logger()
	fallbacklog.Error().Msgf("Falling back to a default logger due to logger setup failure: %s", err)
	return &failLog
}

// Create builds a logger from the config. A nil config gets a colored
// console logger at info level.
func Create(config *Config) *zerolog.Logger {
	if config == nil {
		config = &Config{MinLevel: "info"}
	}

	var writers []io.Writer
	if !config.DisableConsole {
		writers = append(writers, createConsoleWriter(config.NoColor))
	}
	if config.Filename != "" {
		fileWriter, err := createRollingWriter(config.Filename)
		if err != nil {
			return fallbackLogger(err)
		}
		writers = append(writers, fileWriter)
	}

	level, levelErr := zerolog.ParseLevel(config.MinLevel)
	if levelErr != nil {
		level = zerolog.InfoLevel
	}

	multi := resilientMultiWriter{level, writers}
	log := zerolog.New(multi).With().Timestamp().Logger()
	if levelErr != nil {
		log.Error().Msgf("Failed to parse log level %q, using %q instead", config.MinLevel, level)
	}
	return &log
}

func createConsoleWriter(noColor bool) io.Writer {
	consoleOut := os.Stderr
	return zerolog.ConsoleWriter{
		Out:        colorable.NewColorable(consoleOut),
		NoColor:    noColor || !term.IsTerminal(int(consoleOut.Fd())),
		TimeFormat: consoleTimeFormat,
	}
}

func createRollingWriter(filename string) (io.Writer, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, dirPermMode); err != nil {
			return nil, err
		}
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    defaultRollingMaxSizeMB,
		MaxBackups: defaultRollingMaxFiles,
		MaxAge:     defaultRollingMaxDays,
	}, nil
}
