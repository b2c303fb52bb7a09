package scaffolding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
	"github.com/PCL-Community/PCL.Core-sub001/internal/protocol"
)

var hostProfile = player.Profile{Name: "Steve", MachineID: "host-machine", Vendor: "test"}

// startHost serves h on a loopback port until the returned cancel is called.
func startHost(t *testing.T, h *Host) (string, context.CancelFunc) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, listener) }()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			cancel()
			assert.NoError(t, <-done)
		})
	}
	t.Cleanup(stop)
	return listener.Addr().String(), stop
}

func dial(t *testing.T, addr, name string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), addr, protocol.PlayerPing{Name: name, MachineID: "machine-" + name, Vendor: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func names(profiles []player.Profile) []string {
	out := make([]string, len(profiles))
	for i, p := range profiles {
		out[i] = p.Name
	}
	return out
}

// ----

func TestClientHostRequests(t *testing.T) {
	h := NewHost(hostProfile, 25565)
	addr, _ := startHost(t, h)
	c := dial(t, addr, "Alex")
	ctx := context.Background()

	echo, err := c.Ping(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), echo)

	types, err := c.Protocols(ctx)
	require.NoError(t, err)
	assert.Equal(t, SupportedTypes, types)

	port, err := c.ServerPort(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25565, port)

	h.SetGamePort(0)
	_, err = c.ServerPort(ctx)
	assert.ErrorIs(t, err, ErrGameNotRunning)

	// A non-OK status leaves the connection usable.
	_, err = c.Ping(ctx, nil)
	assert.NoError(t, err)
}

func TestHostUnknownTypeNotImplemented(t *testing.T) {
	addr, _ := startHost(t, NewHost(hostProfile, 0))
	c := dial(t, addr, "Alex")

	resp, err := c.SendRequest(context.Background(), protocol.Request{Type: "c:teleport", Body: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "c:teleport", resp.Type)
	assert.Equal(t, protocol.StatusNotImplemented, resp.Status)

	_, err = c.Ping(context.Background(), []byte("still here"))
	assert.NoError(t, err)
}

func TestHostMaxBodySize(t *testing.T) {
	h := NewHost(hostProfile, 0)
	h.MaxBodySize = 64
	addr, _ := startHost(t, h)
	ctx := context.Background()

	other := dial(t, addr, "Bob")
	c := dial(t, addr, "Alex")
	_, err := c.Ping(ctx, make([]byte, 64))
	require.NoError(t, err)

	// An oversized frame ends only the offending connection.
	_, err = c.Ping(ctx, make([]byte, 65))
	require.Error(t, err)
	_, err = other.Ping(ctx, []byte("still here"))
	assert.NoError(t, err)
}

func TestHostRejectsBadPlayerPing(t *testing.T) {
	h := NewHost(hostProfile, 0)
	addr, _ := startHost(t, h)
	c := dial(t, addr, "Alex")

	resp, err := c.SendRequest(context.Background(), protocol.Request{Type: protocol.TypePlayerPing, Body: []byte(`{"name":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusBadRequest, resp.Status)
	assert.Len(t, h.Players(), 1)
}

func TestHostRosterHostFirst(t *testing.T) {
	h := NewHost(hostProfile, 0)
	addr, _ := startHost(t, h)
	ctx := context.Background()

	a := dial(t, addr, "Alex")
	b := dial(t, addr, "Zuri")
	require.NoError(t, a.PlayerPing(ctx))
	require.NoError(t, b.PlayerPing(ctx))
	require.NoError(t, a.PlayerPing(ctx))

	players, err := b.Players(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Steve", "Alex", "Zuri"}, names(players))
	assert.Equal(t, player.KindHost, players[0].Kind)
	assert.Equal(t, player.KindGuest, players[1].Kind)
	assert.Equal(t, "machine-Alex", players[1].MachineID)

	local := h.Players()
	assert.Equal(t, "127.0.0.1", local[1].VirtualAddress)
}

func TestHostSnapshotsAreCopies(t *testing.T) {
	h := NewHost(hostProfile, 0)
	var mu sync.Mutex
	var last []player.Profile
	h.OnPlayersChanged = func(p []player.Profile) {
		mu.Lock()
		last = p
		mu.Unlock()
	}
	addr, _ := startHost(t, h)
	c := dial(t, addr, "Alex")
	require.NoError(t, c.PlayerPing(context.Background()))

	mu.Lock()
	require.Len(t, last, 2)
	last[0].Name = "mutated"
	mu.Unlock()

	assert.Equal(t, "Steve", h.Players()[0].Name)
}

func TestHostDropsPlayerOnDisconnect(t *testing.T) {
	h := NewHost(hostProfile, 0)
	addr, _ := startHost(t, h)
	c := dial(t, addr, "Alex")
	require.NoError(t, c.PlayerPing(context.Background()))
	require.Len(t, h.Players(), 2)

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return len(h.Players()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHostConnectionsWithSameTagStayApart(t *testing.T) {
	h := NewHost(hostProfile, 0)
	h.connTag = func(net.Conn) uint32 { return 0xdeadbeef }
	addr, _ := startHost(t, h)
	ctx := context.Background()

	alex := dial(t, addr, "Alex")
	require.NoError(t, alex.PlayerPing(ctx))
	bob := dial(t, addr, "Bob")
	require.NoError(t, bob.PlayerPing(ctx))
	require.Equal(t, []string{"Steve", "Alex", "Bob"}, names(h.Players()))

	require.NoError(t, alex.Close())
	assert.Eventually(t, func() bool { return len(h.Players()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Steve", "Bob"}, names(h.Players()))

	players, err := bob.Players(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Steve", "Bob"}, names(players))
}

func TestHostEvictsSilentPlayers(t *testing.T) {
	h := NewHost(hostProfile, 0)
	h.PlayerExpiry = 50 * time.Millisecond
	h.SweepInterval = 10 * time.Millisecond

	var changes atomic.Int32
	h.OnPlayersChanged = func([]player.Profile) { changes.Add(1) }

	addr, _ := startHost(t, h)
	c := dial(t, addr, "Alex")
	require.NoError(t, c.PlayerPing(context.Background()))

	assert.Eventually(t, func() bool { return len(h.Players()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, changes.Load(), int32(2))

	// The connection is still open; pinging again re-registers.
	require.NoError(t, c.PlayerPing(context.Background()))
	assert.Len(t, h.Players(), 2)
}

func TestHostReconnectReplacesEntry(t *testing.T) {
	h := NewHost(hostProfile, 0)
	addr, _ := startHost(t, h)
	ctx := context.Background()

	first := dial(t, addr, "Alex")
	require.NoError(t, first.PlayerPing(ctx))
	second := dial(t, addr, "Alex")
	require.NoError(t, second.PlayerPing(ctx))

	assert.Equal(t, []string{"Steve", "Alex"}, names(h.Players()))
}

// ----

// frameConn fails the test if a Write carries anything but whole frames.
type frameConn struct {
	net.Conn
	bad atomic.Int32
}

func (c *frameConn) Write(p []byte) (int, error) {
	_, n, err := protocol.DecodeRequest(p)
	if err != nil || n != len(p) {
		c.bad.Add(1)
	}
	return c.Conn.Write(p)
}

func TestClientConcurrentRequestsDoNotInterleave(t *testing.T) {
	addr, _ := startHost(t, NewHost(hostProfile, 0))
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn := &frameConn{Conn: raw}
	c := NewClient(conn, protocol.PlayerPing{Name: "Alex", MachineID: "m"})
	defer c.Close()

	const workers, rounds = 16, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				payload := []byte(fmt.Sprintf("worker-%02d-round-%02d-%s", w, r, make([]byte, w*64)))
				echo, err := c.Ping(context.Background(), payload)
				if err != nil {
					errs <- err
					return
				}
				if string(echo) != string(payload) {
					errs <- fmt.Errorf("worker %d got mismatched echo of %d bytes", w, len(echo))
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Zero(t, conn.bad.Load())
}

func TestClientMismatchedResponseClosesClient(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	c := NewClient(client, protocol.PlayerPing{MachineID: "m"})

	go func() {
		req, err := protocol.ReadRequest(server)
		if err != nil {
			return
		}
		_ = protocol.WriteResponse(server, protocol.Response{Type: req.Type + "x", Status: protocol.StatusOK})
	}()

	_, err := c.Ping(context.Background(), nil)
	require.Error(t, err)
	_, err = c.Ping(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClientRequestHonoursContext(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	c := NewClient(client, protocol.PlayerPing{MachineID: "m"})

	// Read the request but never answer.
	go func() { _, _ = protocol.ReadRequest(server) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Ping(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ----

func TestClientRunHeartbeatAndShutdown(t *testing.T) {
	h := NewHost(hostProfile, 0)
	addr, stopHost := startHost(t, h)
	c := dial(t, addr, "Alex")
	c.Heartbeat = 20 * time.Millisecond

	updates := make(chan []player.Profile, 64)
	c.OnPlayersUpdated = func(p []player.Profile) {
		select {
		case updates <- p:
		default:
		}
	}
	var shutdowns atomic.Int32
	c.OnServerShutdown = func(err error) {
		assert.ErrorIs(t, err, ErrServerShutdown)
		shutdowns.Add(1)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	select {
	case p := <-updates:
		assert.Equal(t, []string{"Steve", "Alex"}, names(p))
	case <-time.After(2 * time.Second):
		t.Fatal("no player update")
	}

	stopHost()

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, ErrServerShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not notice shutdown")
	}
	assert.Equal(t, int32(1), shutdowns.Load())
	assert.True(t, c.isClosed())
}

func TestClientRunStopsOnCancel(t *testing.T) {
	addr, _ := startHost(t, NewHost(hostProfile, 0))
	c := dial(t, addr, "Alex")
	c.Heartbeat = 10 * time.Millisecond
	c.OnServerShutdown = func(error) { t.Error("unexpected shutdown event") }

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	_, err = Dial(context.Background(), addr, protocol.PlayerPing{MachineID: "m"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrClosed))
}
