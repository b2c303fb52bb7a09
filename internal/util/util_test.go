package util

import (
	"bytes"
	"net"
	"strconv"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnIDDistinguishesConnections(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	a, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer a.Close()
	b, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, ConnID(a), ConnID(a))
	assert.NotEqual(t, ConnID(a), ConnID(b))
}

func TestFreePorts(t *testing.T) {
	port, err := FreePorts.AllocatePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	listener.Close()
}

func TestSetLogLevel(t *testing.T) {
	defer SetLogLevel("info")

	var buf bytes.Buffer
	prev := pterm.DefaultLogger.Writer
	SetLogOutput(&buf)
	defer SetLogOutput(prev)

	SetLogLevel("warn")
	assert.Equal(t, pterm.LogLevelWarn, pterm.DefaultLogger.Level)
	LogInfo("hidden %d", 1)
	LogWarning("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 2")

	SetLogLevel("nonsense")
	assert.Equal(t, pterm.LogLevelInfo, pterm.DefaultLogger.Level)
}

func TestFormatStats(t *testing.T) {
	line := formatStats(1, 2, 30, 40, 5, 6)
	assert.Contains(t, line, "30 in")
	assert.Contains(t, line, "5 ok 6 failed")
}
