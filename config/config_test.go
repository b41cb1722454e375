package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullYAML = `
listen: 127.0.0.1:9000
data_dir: /var/lib/pair
public_url: https://pair.example.com/

log:
  level: debug
  format: json

pairing:
  attempts: 5
  delay: 500ms
  ready_timeout: 10s
  client_name: Firefox (Linux)

reconnect:
  initial_interval: 2s
  max_interval: 30s

connect_timeout: 15s

rate_limit:
  per_second: 0.5
  burst: 2

default_session:
  enabled: true
  id: bot

resume: true
resume_workers: 8
notify_on_pair: false
abandon_failed: true
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/var/lib/pair", cfg.DataDir)
	assert.Equal(t, "https://pair.example.com", cfg.PublicURL)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
	assert.Equal(t, PairingConfig{
		Attempts:     5,
		Delay:        500 * time.Millisecond,
		ReadyTimeout: 10 * time.Second,
		ClientName:   "Firefox (Linux)",
	}, cfg.Pairing)
	assert.Equal(t, ReconnectConfig{InitialInterval: 2 * time.Second, MaxInterval: 30 * time.Second}, cfg.Reconnect)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, RateLimitConfig{PerSecond: 0.5, Burst: 2}, cfg.RateLimit)
	assert.Equal(t, DefaultSession{Enabled: true, ID: "bot"}, cfg.DefaultSession)
	assert.True(t, cfg.Resume)
	assert.Equal(t, 8, cfg.ResumeWorkers)
	assert.False(t, cfg.Notify())
	assert.True(t, cfg.AbandonFailed)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("default_session:\n  enabled: true\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Listen)
	assert.Equal(t, "sessions", cfg.DataDir)
	assert.Equal(t, "", cfg.PublicURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Pairing.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Pairing.Delay)
	assert.Equal(t, 20*time.Second, cfg.Pairing.ReadyTimeout)
	assert.Equal(t, "Chrome (Linux)", cfg.Pairing.ClientName)
	assert.Equal(t, time.Second, cfg.Reconnect.InitialInterval)
	assert.Equal(t, time.Minute, cfg.Reconnect.MaxInterval)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Zero(t, cfg.RateLimit.PerSecond)
	assert.Equal(t, "main", cfg.DefaultSession.ID)
	assert.True(t, cfg.Notify())
	assert.False(t, cfg.AbandonFailed)
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.DefaultSession.Enabled)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log format", "log:\n  format: xml\n", "log.format"},
		{"attempts", "pairing:\n  attempts: -1\n", "pairing.attempts"},
		{"reconnect bounds", "reconnect:\n  initial_interval: 1m\n  max_interval: 1s\n", "reconnect.max_interval"},
		{"default id", "default_session:\n  enabled: true\n  id: ../etc\n", "default_session.id"},
		{"public url", "public_url: example.com\n", "public_url"},
		{"rate limit", "rate_limit:\n  per_second: -2\n", "rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("listen: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: :9999\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
