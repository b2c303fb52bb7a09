// Package scaffolding implements both ends of the lobby metadata channel:
// the Host that answers on the virtual network and the Client a guest
// keeps connected to it.
package scaffolding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
	"github.com/PCL-Community/PCL.Core-sub001/internal/protocol"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// Tuning constants.
const (
	DefaultPlayerExpiry  = 15 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

// SupportedTypes lists the request types a Host answers, in the order
// reported by c:protocols.
var SupportedTypes = []string{
	protocol.TypePing,
	protocol.TypeProtocols,
	protocol.TypeServerPort,
	protocol.TypePlayerPing,
	protocol.TypePlayerProfileList,
}

type guest struct {
	profile  player.Profile
	seq      uint64
	lastSeen time.Time
}

// Host serves Scaffolding requests from lobby guests. The zero value is not
// usable; create one with NewHost.
type Host struct {
	// PlayerExpiry is how long a guest stays listed without a c:player_ping.
	PlayerExpiry time.Duration
	// SweepInterval is how often expired guests are looked for.
	SweepInterval time.Duration
	// MaxBodySize caps request bodies; zero means protocol.StreamBodyLimit.
	MaxBodySize int
	// OnPlayersChanged receives a fresh snapshot whenever the roster changes.
	// It runs on the goroutine that made the change and must not block.
	OnPlayersChanged func([]player.Profile)

	self     player.Profile
	gamePort atomic.Int32
	now      func() time.Time
	// connTag labels connections in log lines.
	connTag func(net.Conn) uint32

	mu       sync.Mutex
	players  map[uint64]*guest
	nextSeq  uint64
	conns    map[uint64]net.Conn
	nextConn uint64
}

// NewHost creates a host whose own profile is self. gamePort is the
// Minecraft server port; zero means no game is open yet.
func NewHost(self player.Profile, gamePort int) *Host {
	self.Kind = player.KindHost
	h := &Host{
		PlayerExpiry:  DefaultPlayerExpiry,
		SweepInterval: DefaultSweepInterval,
		self:          self,
		now:           time.Now,
		connTag:       util.ConnID,
		players:       make(map[uint64]*guest),
		conns:         make(map[uint64]net.Conn),
	}
	h.gamePort.Store(int32(gamePort))
	return h
}

// SetGamePort changes the port answered to c:server_port.
func (h *Host) SetGamePort(port int) { h.gamePort.Store(int32(port)) }

// GamePort returns the current game port, zero when unset.
func (h *Host) GamePort() int { return int(h.gamePort.Load()) }

// Players returns a snapshot of the roster. The host is always first,
// guests follow in the order they first pinged.
func (h *Host) Players() []player.Profile {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Host) snapshotLocked() []player.Profile {
	guests := make([]*guest, 0, len(h.players))
	for _, g := range h.players {
		guests = append(guests, g)
	}
	slices.SortFunc(guests, func(a, b *guest) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	out := make([]player.Profile, 0, len(guests)+1)
	out = append(out, h.self)
	for _, g := range guests {
		out = append(out, g.profile)
	}
	return player.HostFirst(out)
}

// ----

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (h *Host) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return h.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then closes
// the listener and every open connection. A cancelled context yields nil.
func (h *Host) Serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Close the listener when context is done so Accept() returns an error.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	go h.sweepLoop(ctx)

	util.LogInfo("[host] scaffolding server listening on %s", listener.Addr())

	var wg sync.WaitGroup
	defer wg.Wait()
	defer h.closeAll()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil // normal shutdown
			default:
				return fmt.Errorf("accept error: %w", err)
			}
		}

		tag := h.connTag(conn)
		util.LogDebug("[host] [%08x] new connection from %s", tag, conn.RemoteAddr())
		util.Stats.AddConn()

		h.mu.Lock()
		h.nextConn++
		key := h.nextConn
		h.conns[key] = conn
		h.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			h.handleConn(ctx, hostConn{key: key, tag: tag, Conn: conn})
		}()
	}
}

func (h *Host) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		c.Close()
	}
}

// hostConn is one accepted connection. key is unique for the host's
// lifetime; tag only labels log lines.
type hostConn struct {
	net.Conn
	key uint64
	tag uint32
}

// handleConn answers one request at a time until the peer goes away.
func (h *Host) handleConn(ctx context.Context, conn hostConn) {
	id := conn.tag
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer h.dropConn(conn)

	for {
		req, err := protocol.ReadRequestLimit(conn, h.MaxBodySize)
		if err != nil {
			var fe *protocol.FrameError
			switch {
			case errors.Is(err, io.EOF):
				util.LogDebug("[host] [%08x] connection closed by peer", id)
			case errors.As(err, &fe):
				util.LogWarning("[host] [%08x] %v", id, err)
			case ctx.Err() == nil:
				util.LogDebug("[host] [%08x] read error: %v", id, err)
			}
			return
		}
		util.Stats.AddFrameIn()

		resp := h.dispatch(conn, req)
		if err := protocol.WriteResponse(conn, resp); err != nil {
			if ctx.Err() == nil {
				util.LogDebug("[host] [%08x] write error: %v", id, err)
			}
			return
		}
		util.Stats.AddFrameOut()
	}
}

func (h *Host) dropConn(conn hostConn) {
	conn.Close()
	util.Stats.RemoveConn()

	h.mu.Lock()
	delete(h.conns, conn.key)
	_, listed := h.players[conn.key]
	delete(h.players, conn.key)
	var snap []player.Profile
	if listed {
		snap = h.snapshotLocked()
	}
	h.mu.Unlock()

	if listed {
		h.notify(snap)
	}
}

// dispatch produces the response for one request.
func (h *Host) dispatch(conn hostConn, req protocol.Request) protocol.Response {
	id := conn.tag
	switch req.Type {
	case protocol.TypePing:
		return protocol.Reply(req, protocol.StatusOK, req.Body)

	case protocol.TypeProtocols:
		return protocol.Reply(req, protocol.StatusOK, protocol.EncodeProtocols(SupportedTypes))

	case protocol.TypeServerPort:
		port := h.GamePort()
		if port <= 0 {
			return protocol.Reply(req, protocol.StatusNotRunning, nil)
		}
		return protocol.Reply(req, protocol.StatusOK, protocol.EncodePort(port))

	case protocol.TypePlayerPing:
		ping, err := protocol.ParsePlayerPing(req.Body)
		if err != nil {
			util.LogWarning("[host] [%08x] %v", id, err)
			return protocol.Reply(req, protocol.StatusBadRequest, []byte(err.Error()))
		}
		h.register(conn, ping)
		return protocol.Reply(req, protocol.StatusOK, nil)

	case protocol.TypePlayerProfileList:
		body, err := protocol.EncodeProfiles(h.Players())
		if err != nil {
			util.LogError("[host] failed to encode player list: %v", err)
			return protocol.Reply(req, protocol.StatusInternalError, nil)
		}
		return protocol.Reply(req, protocol.StatusOK, body)

	default:
		util.LogDebug("[host] [%08x] unsupported request type %q", id, req.Type)
		return protocol.Reply(req, protocol.StatusNotImplemented, nil)
	}
}

// register adds or refreshes the guest behind conn.
func (h *Host) register(conn hostConn, ping protocol.PlayerPing) {
	id := conn.key
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	h.mu.Lock()
	g, ok := h.players[id]
	changed := !ok || g.profile.Name != ping.Name || g.profile.Vendor != ping.Vendor
	if !ok {
		// A reconnecting guest replaces its stale entry.
		for other, og := range h.players {
			if og.profile.MachineID == ping.MachineID {
				delete(h.players, other)
			}
		}
		h.nextSeq++
		g = &guest{seq: h.nextSeq}
		h.players[id] = g
	}
	g.profile = player.Profile{
		Name:           ping.Name,
		MachineID:      ping.MachineID,
		Vendor:         ping.Vendor,
		Kind:           player.KindGuest,
		VirtualAddress: addr,
		LatencyMs:      player.LatencyUnknown,
	}
	g.lastSeen = h.now()
	var snap []player.Profile
	if changed {
		snap = h.snapshotLocked()
	}
	h.mu.Unlock()

	if changed {
		if !ok {
			util.LogInfo("[host] %s joined the lobby", ping.Name)
		}
		h.notify(snap)
	}
}

// sweepLoop evicts guests that stopped pinging.
func (h *Host) sweepLoop(ctx context.Context) {
	interval := h.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.evictExpired()
		case <-ctx.Done():
			return
		}
	}
}

func (h *Host) evictExpired() {
	expiry := h.PlayerExpiry
	if expiry <= 0 {
		expiry = DefaultPlayerExpiry
	}
	deadline := h.now().Add(-expiry)

	h.mu.Lock()
	var evicted []string
	for id, g := range h.players {
		if g.lastSeen.Before(deadline) {
			evicted = append(evicted, g.profile.Name)
			delete(h.players, id)
		}
	}
	var snap []player.Profile
	if len(evicted) > 0 {
		snap = h.snapshotLocked()
	}
	h.mu.Unlock()

	for _, name := range evicted {
		util.LogInfo("[host] %s timed out", name)
	}
	if len(evicted) > 0 {
		h.notify(snap)
	}
}

func (h *Host) notify(snap []player.Profile) {
	util.Stats.SetPlayers(len(snap))
	if h.OnPlayersChanged != nil {
		h.OnPlayersChanged(snap)
	}
}
