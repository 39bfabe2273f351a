package logger

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Levels(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		" WARN ": zerolog.WarnLevel,
		"":       zerolog.InfoLevel,
		"chatty": zerolog.InfoLevel,
		"error":  zerolog.ErrorLevel,
	}
	for in, want := range tests {
		require.NoError(t, Init(in))
		assert.Equal(t, want, log.Logger.GetLevel(), "level %q", in)
	}
}

func TestEvent_Chain(t *testing.T) {
	require.NoError(t, Init("debug"))

	assert.NotPanics(t, func() {
		Info().Str("method", "getblock").Int("peers", 3).Err(errors.New("boom")).Msgf("handled %d", 1)
		Debug().Msg("plain")
	})
}
