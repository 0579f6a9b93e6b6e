package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "duplex", cfg.Name)
	assert.Equal(t, "tcp", cfg.Server.Reliable.Kind)
	assert.Equal(t, "udp", cfg.Server.Fast.Kind)
	assert.Equal(t, time.Second, cfg.Client.PulseInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duplex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: arena
version: 4
codec: cbor
server:
  reliable:
    kind: WS
    addr: ":8080"
  fast:
    kind: none
  handshake_timeout: 5s
log:
  out: console|file
  path: /tmp/duplex-log
  rotate: true
`), 0644))
	t.Setenv("DUPLEX_SERVER_MAX_CONN_NUM", "64")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "arena", cfg.Name)
	assert.Equal(t, 4, cfg.Version)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, "ws", cfg.Server.Reliable.Kind)
	assert.Equal(t, ":8080", cfg.Server.Reliable.Addr)
	assert.Equal(t, "none", cfg.Server.Fast.Kind)
	assert.Equal(t, 5*time.Second, cfg.Server.HandshakeTimeout)
	assert.Equal(t, 64, cfg.Server.MaxConnNum)
	assert.Equal(t, "127.0.0.1:3653", cfg.Client.Reliable.Addr)
	assert.Equal(t, "/tmp/duplex-log", cfg.Log.Dir)
	assert.True(t, cfg.Log.Rotate)
}

func TestLoadConfigRejectsUnknownTransport(t *testing.T) {
	t.Setenv("DUPLEX_CLIENT_RELIABLE_KIND", "quic")
	_, err := LoadConfig("")
	assert.ErrorContains(t, err, "quic")
}
