package logger

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWithNilConfig(t *testing.T) {
	log := Create(nil)
	require.NotNil(t, log)
	log.Info().Msg("nil config logger works")
}

func TestCreateWithRollingFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "logs", "pori.log")
	log := Create(&Config{MinLevel: "debug", DisableConsole: true, Filename: filename})
	require.NotNil(t, log)
	log.Debug().Str("k", "v").Msg("written to rolling file")
}

func TestCreateWithBadLevelFallsBackToInfo(t *testing.T) {
	log := Create(&Config{MinLevel: "shouting", DisableConsole: true})
	require.NotNil(t, log)
	log.Info().Msg("still usable")
}

func TestResilientMultiWriterFiltersByLevel(t *testing.T) {
	var captured []byte
	sink := writerFunc(func(p []byte) (int, error) {
		captured = append(captured, p...)
		return len(p), nil
	})

	multi := resilientMultiWriter{zerolog.WarnLevel, []io.Writer{sink}}
	_, err := multi.WriteLevel(zerolog.DebugLevel, []byte("debug line"))
	require.NoError(t, err)
	assert.Empty(t, captured)

	_, err = multi.WriteLevel(zerolog.ErrorLevel, []byte("error line"))
	require.NoError(t, err)
	assert.Equal(t, "error line", string(captured))
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
