package logger

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewParsesLevel(t *testing.T) {
	New(Config{Level: "warn"})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	New(Config{Level: "DEBUG"}) // case-insensitive
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	New(Config{Level: "verbose"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	New(Config{Level: ""})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestNewSetsMillisecondDurations(t *testing.T) {
	New(Config{Level: "info"})
	assert.Equal(t, time.Millisecond, zerolog.DurationFieldUnit)
	assert.True(t, zerolog.DurationFieldInteger)
}
