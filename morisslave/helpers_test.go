package morisslave

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "🧮🧮", truncate("🧮🧮🧮", 2))
}

func TestCapitalize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Math", capitalize("math"))
	assert.Equal(t, "Math", capitalize("Math"))
	assert.Equal(t, "", capitalize(""))
	assert.Equal(t, "Étude", capitalize("étude"))
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		s, err := generateRandomHexString(discordComponentCustomIDLength)
		require.NoError(t, err)
		assert.Len(t, s, discordComponentCustomIDLength)
		assert.False(t, seen[s], "duplicate custom ID: %s", s)
		seen[s] = true
	}
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("foo", "bar")
	ctx := WithLogger(context.Background(), logger)
	found, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Equal(t, logger, found)
}

func TestStructToSlogValueRedaction(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Discord.Token = "super-secret"

	v := structToSlogValue(cfg.Discord)
	var tokenValue string
	for _, attr := range v.Group() {
		if attr.Key == "token" {
			tokenValue = attr.Value.String()
		}
	}
	assert.Equal(t, "[redacted]", tokenValue)
}
