package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "REDIS_DB", "ACTIVE_SHIFT_TTL_HOURS", "ACCESS_TOKEN_TTL_MINUTES", "EVENTS_CHANNEL", "DEFAULT_TERMINAL_ID", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 24*time.Hour, cfg.ActiveShiftTTL())
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL())
	assert.Equal(t, "tillbook:reconciliation", cfg.EventsChannel)
	assert.Equal(t, "T1", cfg.TerminalID)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("ACTIVE_SHIFT_TTL_HOURS", "soon")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()
	assert.Equal(t, 24, cfg.ActiveShiftTTLHours)
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DEFAULT_STORE_ID=toko-dotenv\nPORT=9999\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("PORT", "7070")
	t.Setenv("DEFAULT_STORE_ID", "")
	require.NoError(t, os.Unsetenv("DEFAULT_STORE_ID"))

	cfg := Load()
	assert.Equal(t, "toko-dotenv", cfg.StoreID)
	assert.Equal(t, ":7070", cfg.Address())
}
