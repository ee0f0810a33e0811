package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "helpdesk.db", cfg.DBFile)
	require.Equal(t, 100, cfg.HistoryLimit)
	require.Equal(t, 5, cfg.ReconnectAttempts)
	require.Equal(t, time.Second, cfg.ReconnectDelay)
	require.Equal(t, 10*time.Second, cfg.AckTimeout)
	require.Equal(t, int64(10<<20), cfg.MaxAttachmentSize)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SOCKET_URL", "wss://chat.example.com/ws")
	t.Setenv("HISTORY_LIMIT", "25")
	t.Setenv("RECONNECT_DELAY", "250ms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "dev")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "wss://chat.example.com/ws", cfg.SocketURL)
	require.Equal(t, 25, cfg.HistoryLimit)
	require.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, "dev", cfg.LogFormat)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HELPDESK_DB=from-dotenv.db\nHISTORY_LIMIT=7\n"), 0644))
	t.Chdir(dir)
	// Real environment wins over .env.
	t.Setenv("HISTORY_LIMIT", "9")
	// godotenv sets variables on the process; register them for cleanup.
	t.Setenv("HELPDESK_DB", "")
	require.NoError(t, os.Unsetenv("HELPDESK_DB"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-dotenv.db", cfg.DBFile)
	require.Equal(t, 9, cfg.HistoryLimit)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"Bad int", "HISTORY_LIMIT", "many"},
		{"Zero limit", "HISTORY_LIMIT", "0"},
		{"Bad duration", "ACK_TIMEOUT", "soon"},
		{"Negative attempts", "RECONNECT_ATTEMPTS", "-1"},
		{"HTTP socket", "SOCKET_URL", "http://localhost:3001"},
		{"Relative API", "API_URL", "/api"},
		{"Half VAPID pair", "VAPID_PUBLIC_KEY", "abc"},
		{"Bad level", "LOG_LEVEL", "loud"},
		{"Bad format", "LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
