package utils_test

import (
	"log/slog"
	"testing"

	"github.com/craftscribe/craftscribe/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("CRAFTSCRIBE_TEST_KEY", "set")
	assert.Equal(t, "set", utils.GetEnv("CRAFTSCRIBE_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", utils.GetEnv("CRAFTSCRIBE_TEST_MISSING", "fallback"))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
	}
	for _, tt := range tests {
		level, err := utils.ParseLogLevel(tt.input)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level)
	}

	_, err := utils.ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "", utils.RedactToken("", 6, 4))
	assert.Equal(t, "*****", utils.RedactToken("short", 6, 4))
	assert.Equal(t, "eyJhbG...XVCJ9", utils.RedactToken("eyJhbGciOiJFUzI1NiIsInR5cCI6IkpXVCJ9", 6, 4))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", utils.TruncateString("short", 10))
	assert.Equal(t, "this is...", utils.TruncateString("this is a long string", 10))
}
