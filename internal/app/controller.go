package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/PCL-Community/PCL.Core-sub001/internal/lobbycode"
	"github.com/PCL-Community/PCL.Core-sub001/internal/mesh"
	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// Defaults for Options fields left zero.
const (
	DefaultDiscoveryAttempts = 30
	DefaultDiscoveryInterval = time.Second
	DefaultDiscoveryTimeout  = 45 * time.Second
)

// Options wires a Controller to its collaborators.
type Options struct {
	Mesh  mesh.Orchestrator
	Ports util.PortAllocator

	// MachineID identifies this installation in player lists.
	MachineID string
	// Vendor is announced alongside the player name.
	Vendor string

	// CodeFormat is the format generated by CreateLobby.
	CodeFormat lobbycode.Format
	// MeshTemplate carries relays and transport preferences; role, network
	// and ports are filled in per session.
	MeshTemplate mesh.Config

	Heartbeat     time.Duration
	PlayerExpiry  time.Duration
	SweepInterval time.Duration

	DiscoveryAttempts int
	DiscoveryInterval time.Duration
	DiscoveryTimeout  time.Duration
}

func (o *Options) setDefaults() {
	if o.Ports == nil {
		o.Ports = util.FreePorts
	}
	if o.CodeFormat == lobbycode.FormatUnknown {
		o.CodeFormat = lobbycode.FormatScaffolding
	}
	if o.DiscoveryAttempts <= 0 {
		o.DiscoveryAttempts = DefaultDiscoveryAttempts
	}
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if o.DiscoveryTimeout <= 0 {
		o.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
}

// Controller is the lobby session state machine. All methods are safe for
// concurrent use; operations not allowed in the current state are rejected
// with a *TransitionError and no side effects.
type Controller struct {
	opts  Options
	codec lobbycode.Codec

	events emitter

	mu      sync.Mutex
	state   State
	session *Session
	nat     *mesh.NatStatus
}

// NewController creates an idle controller.
func NewController(opts Options) *Controller {
	opts.setDefaults()
	return &Controller{
		opts:  opts,
		codec: lobbycode.Codec{Ports: opts.Ports},
	}
}

// Subscribe adds a sink for every future event.
func (c *Controller) Subscribe(s EventSink) { c.events.subscribe(s) }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Players returns a snapshot of the current roster.
func (c *Controller) Players() []player.Profile {
	if s := c.Session(); s != nil {
		return s.Players()
	}
	return nil
}

// Status returns a snapshot for status displays.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state, Nat: c.nat}
	s := c.session
	c.mu.Unlock()

	if s != nil {
		role := s.Role
		st.SessionID = s.ID
		st.Role = &role
		st.Code = s.Code.Text
		st.GamePort = s.GamePort
		st.LocalGamePort = s.LocalGamePort
		st.Players = s.Players()
	}
	if st.Players == nil {
		st.Players = []player.Profile{}
	}
	return st
}

// ----

// transition moves from one of the allowed states to next.
func (c *Controller) transition(op string, allowed []State, next State) error {
	c.mu.Lock()
	prev := c.state
	if !slices.Contains(allowed, prev) {
		c.mu.Unlock()
		return &TransitionError{Op: op, State: prev}
	}
	c.state = next
	c.mu.Unlock()

	c.emitState(prev, next)
	return nil
}

// transitionSession is transition guarded on s still being the active
// session, so a finished operation cannot clobber a newer one.
func (c *Controller) transitionSession(s *Session, from, next State) bool {
	c.mu.Lock()
	if c.session != s || c.state != from {
		c.mu.Unlock()
		return false
	}
	c.state = next
	c.mu.Unlock()

	c.emitState(from, next)
	return true
}

func (c *Controller) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev != next {
		c.emitState(prev, next)
	}
}

func (c *Controller) emitState(prev, next State) {
	util.LogDebug("[lobby] %s -> %s", prev, next)
	c.events.emit(Event{Kind: EventStateChanged, State: &next, Previous: &prev})
}

func (c *Controller) hint(level HintLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case HintCritical:
		util.LogError("[lobby] %s", msg)
	case HintWarning:
		util.LogWarning("[lobby] %s", msg)
	default:
		util.LogInfo("[lobby] %s", msg)
	}
	c.events.emit(Event{Kind: EventHint, Hint: &Hint{Level: level, Message: msg}})
}

func (c *Controller) publishPlayers(s *Session, players []player.Profile) {
	c.mu.Lock()
	active := c.session == s
	c.mu.Unlock()
	if !active {
		return
	}
	s.setPlayers(players)
	snap := s.Players()
	util.Stats.SetPlayers(len(snap))
	c.events.emit(Event{Kind: EventPlayersUpdated, Players: snap})
}

// ----

// Initialize makes the controller ready for lobbies. It checks that the
// mesh binaries are installed and emits EventNeedDownload when they are not.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateInitialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.transition("initialize", []State{StateIdle, StateError}, StateInitializing); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		c.setState(StateIdle)
		return err
	}

	if err := c.opts.Mesh.CheckBinaries(); err != nil {
		if errors.Is(err, mesh.ErrBinaryMissing) {
			c.events.emit(Event{Kind: EventNeedDownload, Error: err.Error()})
			c.hint(HintWarning, "mesh network components are missing and need to be downloaded")
		} else {
			c.hint(HintCritical, "failed to check mesh network components: %v", err)
		}
		c.setState(StateError)
		return err
	}

	c.setState(StateInitialized)
	return nil
}

// Discover probes the local NAT type. Failures are reported as hints and do
// not leave the Initialized state.
func (c *Controller) Discover(ctx context.Context) (mesh.NatStatus, error) {
	if err := c.transition("discover", []State{StateInitialized}, StateDiscovering); err != nil {
		return mesh.NatStatus{}, err
	}
	defer c.setState(StateInitialized)

	st, err := c.opts.Mesh.GetNatStatus(ctx)
	if err != nil {
		c.hint(HintWarning, "failed to detect NAT type: %v", err)
		return mesh.NatStatus{}, err
	}

	c.mu.Lock()
	c.nat = &st
	c.mu.Unlock()

	util.LogInfo("[lobby] NAT udp=%s tcp=%s ipv6=%t", st.UDP, st.TCP, st.SupportsIPv6)
	return st, nil
}

// LeaveLobby ends the current session, cancelling any lobby operation still
// in flight, and returns to Initialized. Without an active session it does
// nothing, which makes it safe to call repeatedly and from Idle or Error.
func (c *Controller) LeaveLobby() error {
	return c.leave(nil)
}

// leave ends the active session. A non-nil only restricts it to that
// session, so a late caller cannot end a newer one.
func (c *Controller) leave(only *Session) error {
	c.mu.Lock()
	s := c.session
	prev := c.state
	if s == nil || prev == StateLeaving || (only != nil && s != only) {
		c.mu.Unlock()
		return nil
	}
	c.session = nil
	c.state = StateLeaving
	c.mu.Unlock()

	c.emitState(prev, StateLeaving)
	util.LogInfo("[lobby] leaving session %s", s.ID)

	err := s.teardown(c.opts.Mesh)
	if err != nil {
		c.hint(HintWarning, "lobby teardown incomplete: %v", err)
	}

	c.setState(StateInitialized)
	c.events.emit(Event{Kind: EventPlayersUpdated, Players: []player.Profile{}})
	return err
}

// fail tears s down after a failure and enters the Error state. It does
// nothing when s is no longer the active session.
func (c *Controller) fail(s *Session, err error) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	prev := c.state
	c.state = StateLeaving
	c.mu.Unlock()

	c.emitState(prev, StateLeaving)
	if terr := s.teardown(c.opts.Mesh); terr != nil {
		util.LogWarning("[lobby] teardown after failure: %v", terr)
	}
	c.setState(StateError)
	c.hint(HintCritical, "%v", err)
}

// begin installs a fresh session for op, rejecting it unless the controller
// is Initialized.
func (c *Controller) begin(op string, role Role, next State) (*Session, error) {
	c.mu.Lock()
	prev := c.state
	if prev != StateInitialized {
		c.mu.Unlock()
		return nil, &TransitionError{Op: op, State: prev}
	}
	s := newSession(role)
	c.session = s
	c.state = next
	c.mu.Unlock()

	c.emitState(prev, next)
	return s, nil
}

// abort handles a failed create or join. A session already left by
// LeaveLobby only needs its late resources released.
func (c *Controller) abort(s *Session, err error) error {
	c.mu.Lock()
	active := c.session == s
	c.mu.Unlock()

	if !active {
		_ = s.teardown(c.opts.Mesh)
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	c.fail(s, err)
	return err
}

// watchMesh turns an unexpected mesh process exit into a failed session.
func (c *Controller) watchMesh(s *Session, h *mesh.Handle) {
	select {
	case <-h.Done():
		if err := h.Err(); err != nil {
			c.fail(s, fmt.Errorf("mesh network stopped: %w", err))
		}
	case <-s.ctx.Done():
	}
}

func (c *Controller) self(name string) player.Profile {
	return player.Profile{
		Name:      name,
		MachineID: c.opts.MachineID,
		Vendor:    c.opts.Vendor,
	}
}

func (c *Controller) meshConfig(role mesh.Role, code lobbycode.Code) mesh.Config {
	cfg := c.opts.MeshTemplate
	cfg.Role = role
	cfg.NetworkName = code.NetworkName
	cfg.NetworkSecret = code.NetworkSecret
	cfg.RPCPort = 0
	return cfg
}
