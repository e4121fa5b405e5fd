package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNewUsesEnvLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	l := New()
	assert.Equal(t, zerolog.ErrorLevel, l.GetLevel())
	assert.Equal(t, "severity", zerolog.LevelFieldName)
}
