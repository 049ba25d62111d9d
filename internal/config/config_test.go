package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 4000, cfg.Server.Port)

	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.WriteWait)
	assert.Equal(t, int64(65536), cfg.WebSocket.MaxMessageSize)

	assert.Equal(t, uint16(40000), cfg.Media.UDPPortMin)
	assert.Equal(t, uint16(49999), cfg.Media.UDPPortMax)
	assert.Empty(t, cfg.Media.AnnouncedIP)

	assert.False(t, cfg.Meetings.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Meetings.CacheTTL)

	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("MEDIA_ANNOUNCED_IP", "203.0.113.9")
	t.Setenv("MEETINGS_HTTP_ADDRESS", "http://directory:8080")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "203.0.113.9", cfg.Media.AnnouncedIP)
	assert.Equal(t, "http://directory:8080", cfg.Meetings.HTTPAddress)
}
