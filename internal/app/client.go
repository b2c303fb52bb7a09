package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/PCL-Community/PCL.Core-sub001/internal/mesh"
	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
	"github.com/PCL-Community/PCL.Core-sub001/internal/protocol"
	"github.com/PCL-Community/PCL.Core-sub001/internal/scaffolding"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// JoinLobby joins the lobby behind codeText as name. It runs the joiner
// lifecycle:
//  1. Parse the lobby code
//  2. Start the mesh network in joiner role
//  3. Poll the peer list until the host is reachable
//  4. Forward the host's scaffolding port and connect the client
//  5. Forward the game port
//
// It returns the session, whose LocalGamePort is where the game connects.
func (c *Controller) JoinLobby(ctx context.Context, codeText, name string) (*Session, error) {
	s, err := c.begin("join lobby", RoleJoiner, StateJoining)
	if err != nil {
		return nil, err
	}
	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()

	// ── 1. Lobby code ─────────────────────────────────────────────────
	code, err := c.codec.Parse(codeText)
	if err != nil {
		// Bad input is not a session failure.
		c.mu.Lock()
		if c.session == s {
			c.session = nil
		}
		c.mu.Unlock()
		_ = s.teardown(c.opts.Mesh)
		c.transitionTo(StateJoining, StateInitialized)
		c.hint(HintWarning, "invalid lobby code: %v", err)
		return nil, err
	}
	s.Code = code

	// ── 2. Mesh network ───────────────────────────────────────────────
	handle, err := c.opts.Mesh.Start(stepCtx, c.meshConfig(mesh.RoleGuest, code))
	if err != nil {
		return nil, c.abort(s, fmt.Errorf("failed to start mesh network: %w", err))
	}
	if !s.attachMesh(handle) {
		_ = c.opts.Mesh.Stop(handle)
		return nil, c.abort(s, context.Canceled)
	}
	go c.watchMesh(s, handle)

	// ── 3. Host discovery ─────────────────────────────────────────────
	host, err := c.discoverHost(stepCtx, handle)
	if err != nil {
		return nil, c.abort(s, err)
	}
	util.LogInfo("[lobby] found lobby host at %s (%d ms)", host.VirtualAddress, host.LatencyMs)

	// ── 4. Scaffolding client ─────────────────────────────────────────
	localScaffolding, err := c.opts.Mesh.AddPortForward(stepCtx, handle, host.VirtualAddress, host.ScaffoldingPort)
	if err != nil {
		return nil, c.abort(s, fmt.Errorf("failed to reach lobby host: %w", err))
	}

	ping := protocol.PlayerPing{Name: name, MachineID: c.opts.MachineID, Vendor: c.opts.Vendor}
	client, err := scaffolding.Dial(stepCtx, net.JoinHostPort("127.0.0.1", strconv.Itoa(localScaffolding)), ping)
	if err != nil {
		c.events.emit(Event{Kind: EventServerShutdown, Error: err.Error()})
		return nil, c.abort(s, err)
	}
	if !s.attachClient(client) {
		client.Close()
		return nil, c.abort(s, context.Canceled)
	}
	if c.opts.Heartbeat > 0 {
		client.Heartbeat = c.opts.Heartbeat
	}

	// ── 5. Game port ──────────────────────────────────────────────────
	gamePort, err := client.ServerPort(stepCtx)
	switch {
	case errors.Is(err, scaffolding.ErrGameNotRunning) && code.HasPort():
		gamePort = code.Port
	case errors.Is(err, scaffolding.ErrGameNotRunning):
		gamePort = 0
	case err != nil:
		return nil, c.abort(s, fmt.Errorf("failed to query game port: %w", err))
	}
	s.GamePort = gamePort

	if gamePort > 0 {
		local, err := c.opts.Mesh.AddPortForward(stepCtx, handle, host.VirtualAddress, gamePort)
		if err != nil {
			return nil, c.abort(s, fmt.Errorf("failed to forward game port: %w", err))
		}
		s.LocalGamePort = local
	} else {
		c.hint(HintWarning, "the host has not opened a game yet")
	}

	if err := stepCtx.Err(); err != nil {
		return nil, c.abort(s, err)
	}
	if !c.transitionSession(s, StateJoining, StateConnected) {
		return nil, c.abort(s, context.Canceled)
	}

	client.OnPlayersUpdated = func(p []player.Profile) { c.publishPlayers(s, p) }
	client.OnServerShutdown = func(err error) {
		c.events.emit(Event{Kind: EventServerShutdown, Error: err.Error()})
		c.mu.Lock()
		active := c.session == s
		c.mu.Unlock()
		if active {
			c.hint(HintWarning, "lost connection to the lobby host")
			go c.leave(s)
		}
	}
	go client.Run(s.ctx)

	if s.LocalGamePort > 0 {
		c.hint(HintInfo, "joined lobby, connect your game to 127.0.0.1:%d", s.LocalGamePort)
	}
	return s, nil
}

// discoverHost polls the peer list until exactly one host with a measured
// route is visible. It gives up after DiscoveryAttempts polls or
// DiscoveryTimeout, whichever comes first. A duplicate host ends the search
// at once.
func (c *Controller) discoverHost(ctx context.Context, h *mesh.Handle) (*mesh.Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DiscoveryTimeout)
	defer cancel()

	var lastErr error
	for poll := 1; poll <= c.opts.DiscoveryAttempts; poll++ {
		list, err := c.opts.Mesh.QueryPeers(ctx, h)
		switch {
		case errors.Is(err, mesh.ErrDuplicateHost), errors.Is(err, mesh.ErrNotRunning):
			return nil, err
		case err != nil:
			lastErr = err
			util.LogDebug("[lobby] peer query %d failed: %v", poll, err)
		case list.Host != nil && list.Host.Profile().HasLatency():
			util.Stats.ObserveDiscovery(poll)
			host := *list.Host
			return &host, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrDiscoveryTimeout, c.opts.DiscoveryTimeout)
			}
			return nil, ctx.Err()
		case <-time.After(c.opts.DiscoveryInterval):
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrDiscoveryTimeout, c.opts.DiscoveryAttempts, lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrDiscoveryTimeout, c.opts.DiscoveryAttempts)
}

// transitionTo moves from one exact state to next; no-op otherwise.
func (c *Controller) transitionTo(from, next State) {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()
	c.emitState(from, next)
}
