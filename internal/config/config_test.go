package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PCL-Community/PCL.Core-sub001/internal/lobbycode"
	"github.com/PCL-Community/PCL.Core-sub001/internal/mesh"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, lobbycode.FormatScaffolding, cfg.CodeFormat)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat)
}

func TestLoadEnvFileAndOverride(t *testing.T) {
	path := writeEnv(t, `
LOBBY_PLAYER_NAME=Steve
LOBBY_CODE_FORMAT=terracotta
LOBBY_RELAY_TIERS=custom
LOBBY_CUSTOM_RELAYS=tcp://a:11010, udp://b:11010
LOBBY_PROTOCOL=UDP
LOBBY_DISCOVERY_TIMEOUT=10s
LOBBY_IPV6=true
`)
	t.Setenv("LOBBY_PLAYER_NAME", "Alex")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Alex", cfg.PlayerName)
	assert.Equal(t, lobbycode.FormatTerracotta, cfg.CodeFormat)
	assert.Equal(t, mesh.TierCustom, cfg.RelayTiers)
	assert.Equal(t, []string{"tcp://a:11010", "udp://b:11010"}, cfg.CustomRelays)
	assert.Equal(t, mesh.ProtocolUDP, cfg.Protocol)
	assert.Equal(t, 10*time.Second, cfg.DiscoveryTimeout)
	assert.True(t, cfg.EnableIPv6)

	tmpl := cfg.MeshTemplate()
	relays := mesh.FilterRelays(tmpl.Relays, tmpl.RelayTiers)
	require.Len(t, relays, 2)
	assert.Equal(t, "tcp://a:11010", relays[0].URL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	for _, content := range []string{
		"LOBBY_HEARTBEAT=soon",
		"LOBBY_IPV6=maybe",
		"LOBBY_PROTOCOL=sctp",
		"LOBBY_CODE_FORMAT=qr",
		"LOBBY_DISCOVERY_ATTEMPTS=0",
		"LOBBY_PLAYER_EXPIRY=1s",
	} {
		_, err := Load(writeEnv(t, content))
		assert.Error(t, err, content)
	}
}
