package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PCL-Community/PCL.Core-sub001/internal/lobbycode"
	"github.com/PCL-Community/PCL.Core-sub001/internal/mesh"
	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
)

// ----

type fakeMesh struct {
	mu        sync.Mutex
	binaryErr error
	startErr  error
	configs   []mesh.Config
	handles   []*mesh.Handle
	forwards  []string
	polls     int
	// peers answers the n-th QueryPeers call (1-based).
	peers func(n int) (mesh.PeerList, error)
	nat   mesh.NatStatus
}

func (f *fakeMesh) CheckBinaries() error { return f.binaryErr }

func (f *fakeMesh) Start(_ context.Context, cfg mesh.Config) (*mesh.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.configs = append(f.configs, cfg)
	h := mesh.NewHandle(fmt.Sprintf("fake-%d", len(f.handles)), 15888, cfg, nil)
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeMesh) Stop(h *mesh.Handle) error { return h.Kill() }

func (f *fakeMesh) QueryPeers(_ context.Context, h *mesh.Handle) (mesh.PeerList, error) {
	if !h.Alive() {
		return mesh.PeerList{}, mesh.ErrNotRunning
	}
	f.mu.Lock()
	f.polls++
	n := f.polls
	f.mu.Unlock()
	if f.peers == nil {
		return mesh.PeerList{}, nil
	}
	return f.peers(n)
}

// AddPortForward pretends the virtual address is loopback, so the "local"
// port is the target port itself.
func (f *fakeMesh) AddPortForward(_ context.Context, _ *mesh.Handle, addr string, port int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, addr+":"+strconv.Itoa(port))
	return port, nil
}

func (f *fakeMesh) GetNatStatus(context.Context) (mesh.NatStatus, error) { return f.nat, nil }

func (f *fakeMesh) lastHandle() *mesh.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

func (f *fakeMesh) started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) lastPlayers() []player.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == EventPlayersUpdated {
			return r.events[i].Players
		}
	}
	return nil
}

func newTestController(t *testing.T, m *fakeMesh, machine string) (*Controller, *recorder) {
	t.Helper()
	c := NewController(Options{
		Mesh:              m,
		MachineID:         machine,
		Vendor:            "test",
		Heartbeat:         20 * time.Millisecond,
		DiscoveryAttempts: 5,
		DiscoveryInterval: time.Millisecond,
		DiscoveryTimeout:  2 * time.Second,
	})
	rec := &recorder{}
	c.Subscribe(rec)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { c.LeaveLobby() })
	return c, rec
}

func hostPeer(port, latency int) mesh.PeerList {
	p := mesh.Peer{
		Hostname:        mesh.HostHostname(port),
		VirtualAddress:  "127.0.0.1",
		LatencyMs:       latency,
		IsHost:          true,
		ScaffoldingPort: port,
	}
	return mesh.PeerList{Peers: []mesh.Peer{p}, Host: &p}
}

// ----

func TestInitializeNeedDownload(t *testing.T) {
	m := &fakeMesh{binaryErr: fmt.Errorf("%w: easytier-core", mesh.ErrBinaryMissing)}
	c := NewController(Options{Mesh: m})
	rec := &recorder{}
	c.Subscribe(rec)

	err := c.Initialize(context.Background())
	require.ErrorIs(t, err, mesh.ErrBinaryMissing)
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 1, rec.count(EventNeedDownload))

	m.binaryErr = nil
	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, StateInitialized, c.State())
	require.NoError(t, c.Initialize(context.Background()))
}

func TestLeaveLobbyIsNoopWithoutSession(t *testing.T) {
	c := NewController(Options{Mesh: &fakeMesh{binaryErr: mesh.ErrBinaryMissing}})
	assert.NoError(t, c.LeaveLobby())
	assert.Equal(t, StateIdle, c.State())

	_ = c.Initialize(context.Background())
	require.Equal(t, StateError, c.State())
	assert.NoError(t, c.LeaveLobby())
	assert.NoError(t, c.LeaveLobby())
	assert.Equal(t, StateError, c.State())
}

func TestOperationsRequireInitialized(t *testing.T) {
	c := NewController(Options{Mesh: &fakeMesh{}})

	_, err := c.CreateLobby(context.Background(), 25565, "Steve")
	var se *TransitionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateIdle, se.State)

	_, err = c.JoinLobby(context.Background(), "U/AAAA-AAAA-AAAA-AAAA", "Alex")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = c.Discover(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateIdle, c.State())
}

func TestCreateLobby(t *testing.T) {
	m := &fakeMesh{}
	c, rec := newTestController(t, m, "host-machine")

	code, err := c.CreateLobby(context.Background(), 25565, "Steve")
	require.NoError(t, err)
	assert.Equal(t, lobbycode.FormatScaffolding, code.Format)
	assert.Equal(t, StateConnected, c.State())

	require.Len(t, m.configs, 1)
	cfg := m.configs[0]
	assert.Equal(t, mesh.RoleHost, cfg.Role)
	assert.Equal(t, code.NetworkName, cfg.NetworkName)
	assert.Equal(t, code.NetworkSecret, cfg.NetworkSecret)
	assert.Equal(t, 25565, cfg.GamePort)
	assert.NotZero(t, cfg.ScaffoldingPort)

	players := c.Players()
	require.Len(t, players, 1)
	assert.Equal(t, "Steve", players[0].Name)
	assert.True(t, players[0].IsHost())
	assert.NotEmpty(t, rec.lastPlayers())

	st := c.Status()
	assert.Equal(t, code.Text, st.Code)
	require.NotNil(t, st.Role)
	assert.Equal(t, RoleHost, *st.Role)

	h := m.lastHandle()
	require.NoError(t, c.LeaveLobby())
	assert.Equal(t, StateInitialized, c.State())
	assert.False(t, h.Alive())
	assert.Empty(t, c.Players())
	assert.NoError(t, c.LeaveLobby())
}

func TestCreateLobbyStartFailure(t *testing.T) {
	m := &fakeMesh{startErr: errors.New("spawn failed")}
	c, rec := newTestController(t, m, "host-machine")

	_, err := c.CreateLobby(context.Background(), 25565, "Steve")
	require.Error(t, err)
	assert.Equal(t, StateError, c.State())
	assert.Nil(t, c.Session())
	assert.GreaterOrEqual(t, rec.count(EventHint), 1)
}

func TestJoinWhileConnectedIsRejected(t *testing.T) {
	m := &fakeMesh{}
	c, _ := newTestController(t, m, "host-machine")
	_, err := c.CreateLobby(context.Background(), 25565, "Steve")
	require.NoError(t, err)
	session := c.Session()

	_, err = c.JoinLobby(context.Background(), "U/AAAA-AAAA-AAAA-AAAA", "Alex")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateConnected, c.State())
	assert.Same(t, session, c.Session())
	assert.Equal(t, 1, m.started())
	assert.True(t, m.lastHandle().Alive())
}

func TestJoinLobbyInvalidCode(t *testing.T) {
	m := &fakeMesh{}
	c, _ := newTestController(t, m, "guest-machine")

	_, err := c.JoinLobby(context.Background(), "definitely not a code", "Alex")
	require.ErrorIs(t, err, lobbycode.ErrInvalidCode)
	assert.Equal(t, StateInitialized, c.State())
	assert.Nil(t, c.Session())
	assert.Zero(t, m.started())
}

func TestJoinLobbyDuplicateHost(t *testing.T) {
	m := &fakeMesh{peers: func(int) (mesh.PeerList, error) {
		return mesh.PeerList{}, fmt.Errorf("%w: a, b", mesh.ErrDuplicateHost)
	}}
	c, _ := newTestController(t, m, "guest-machine")
	code, err := lobbycode.Generate(lobbycode.FormatScaffolding)
	require.NoError(t, err)

	_, err = c.JoinLobby(context.Background(), code.Text, "Alex")
	require.ErrorIs(t, err, mesh.ErrDuplicateHost)
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 1, m.polls)
	assert.False(t, m.lastHandle().Alive())
}

func TestJoinLobbyDiscoveryTimeout(t *testing.T) {
	m := &fakeMesh{peers: func(n int) (mesh.PeerList, error) {
		if n%2 == 0 {
			return mesh.PeerList{}, errors.New("rpc busy")
		}
		return mesh.PeerList{}, nil
	}}
	c, _ := newTestController(t, m, "guest-machine")
	code, err := lobbycode.Generate(lobbycode.FormatScaffolding)
	require.NoError(t, err)

	_, err = c.JoinLobby(context.Background(), code.Text, "Alex")
	require.ErrorIs(t, err, ErrDiscoveryTimeout)
	assert.Equal(t, 5, m.polls)
	assert.Equal(t, StateError, c.State())
	assert.False(t, m.lastHandle().Alive())
}

func TestCreateAndJoinLobby(t *testing.T) {
	hostMesh := &fakeMesh{}
	host, _ := newTestController(t, hostMesh, "host-machine")
	code, err := host.CreateLobby(context.Background(), 25565, "Steve")
	require.NoError(t, err)
	scaffoldingPort := hostMesh.configs[0].ScaffoldingPort

	// The host is listed before its route is measured; discovery waits.
	guestMesh := &fakeMesh{peers: func(n int) (mesh.PeerList, error) {
		if n < 3 {
			return hostPeer(scaffoldingPort, player.LatencyUnknown), nil
		}
		return hostPeer(scaffoldingPort, 12), nil
	}}
	guest, guestEvents := newTestController(t, guestMesh, "guest-machine")

	s, err := guest.JoinLobby(context.Background(), code.Text, "Alex")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, guest.State())
	assert.Equal(t, 3, guestMesh.polls)
	assert.Equal(t, 25565, s.GamePort)
	assert.Equal(t, 25565, s.LocalGamePort)
	assert.Equal(t, []string{
		"127.0.0.1:" + strconv.Itoa(scaffoldingPort),
		"127.0.0.1:25565",
	}, guestMesh.forwards)
	assert.Equal(t, mesh.RoleGuest, guestMesh.configs[0].Role)

	assert.Eventually(t, func() bool { return len(guest.Players()) == 2 }, 2*time.Second, 10*time.Millisecond)
	players := guest.Players()
	assert.Equal(t, "Steve", players[0].Name)
	assert.True(t, players[0].IsHost())
	assert.Equal(t, "Alex", players[1].Name)
	assert.Eventually(t, func() bool { return len(host.Players()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Host leaves: the guest's heartbeat fails and it leaves as well.
	require.NoError(t, host.LeaveLobby())
	assert.Eventually(t, func() bool { return guest.State() == StateInitialized }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, guestEvents.count(EventServerShutdown))
	assert.False(t, guestMesh.lastHandle().Alive())
}

func TestLateLeaveKeepsNewerSession(t *testing.T) {
	m := &fakeMesh{}
	c, _ := newTestController(t, m, "host-machine")
	ctx := context.Background()

	_, err := c.CreateLobby(ctx, 25565, "Steve")
	require.NoError(t, err)
	first := c.Session()
	require.NoError(t, c.LeaveLobby())

	_, err = c.CreateLobby(ctx, 25566, "Steve")
	require.NoError(t, err)
	second := c.Session()

	// A shutdown notice from the first session arriving now is ignored.
	require.NoError(t, c.leave(first))
	assert.Equal(t, StateConnected, c.State())
	assert.Same(t, second, c.Session())
	assert.True(t, m.lastHandle().Alive())
}

func TestSinkMayCallController(t *testing.T) {
	m := &fakeMesh{nat: mesh.NatStatus{UDP: mesh.NatFullCone}}
	c := NewController(Options{Mesh: m})

	var fired atomic.Bool
	discovered := make(chan error, 1)
	c.Subscribe(EventSinkFunc(func(e Event) {
		if e.Kind != EventStateChanged || *e.State != StateInitialized {
			return
		}
		if fired.CompareAndSwap(false, true) {
			_ = c.Status()
			_, err := c.Discover(context.Background())
			discovered <- err
		}
	}))

	done := make(chan error, 1)
	go func() { done <- c.Initialize(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Initialize did not return")
	}
	require.NoError(t, <-discovered)
	assert.Equal(t, StateInitialized, c.State())
	require.NotNil(t, c.Status().Nat)
	assert.Equal(t, mesh.NatFullCone, c.Status().Nat.UDP)
}

func TestMeshCrashFailsSession(t *testing.T) {
	m := &fakeMesh{}
	c, rec := newTestController(t, m, "host-machine")
	_, err := c.CreateLobby(context.Background(), 25565, "Steve")
	require.NoError(t, err)

	m.lastHandle().MarkExited(errors.New("exit status 3"))

	assert.Eventually(t, func() bool { return c.State() == StateError }, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, c.Session())
	assert.GreaterOrEqual(t, rec.count(EventHint), 2)
	assert.NoError(t, c.LeaveLobby())
}

func TestDiscover(t *testing.T) {
	m := &fakeMesh{nat: mesh.NatStatus{UDP: mesh.NatFullCone, TCP: mesh.NatOpen}}
	c, _ := newTestController(t, m, "m")

	st, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mesh.NatFullCone, st.UDP)
	assert.Equal(t, StateInitialized, c.State())
	require.NotNil(t, c.Status().Nat)
}
