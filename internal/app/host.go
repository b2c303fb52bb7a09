package app

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/PCL-Community/PCL.Core-sub001/internal/lobbycode"
	"github.com/PCL-Community/PCL.Core-sub001/internal/mesh"
	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
	"github.com/PCL-Community/PCL.Core-sub001/internal/scaffolding"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// CreateLobby hosts the game running on gamePort under the player name
// name. It runs the host lifecycle:
//  1. Generate a lobby code
//  2. Start the mesh network in host role
//  3. Start the scaffolding server
//
// Any failure rolls the session back, enters Error and emits a hint.
func (c *Controller) CreateLobby(ctx context.Context, gamePort int, name string) (lobbycode.Code, error) {
	if gamePort < 1 || gamePort > 65535 {
		return lobbycode.Code{}, fmt.Errorf("create lobby: invalid game port %d", gamePort)
	}

	s, err := c.begin("create lobby", RoleHost, StateCreating)
	if err != nil {
		return lobbycode.Code{}, err
	}
	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()

	// ── 1. Lobby code & scaffolding port ──────────────────────────────
	code, err := c.codec.GenerateWithPort(c.opts.CodeFormat, gamePort)
	if err != nil {
		return lobbycode.Code{}, c.abort(s, fmt.Errorf("failed to generate lobby code: %w", err))
	}
	s.Code = code
	s.GamePort = gamePort

	scaffoldingPort, err := c.opts.Ports.AllocatePort()
	if err != nil {
		return lobbycode.Code{}, c.abort(s, err)
	}

	// ── 2. Mesh network ───────────────────────────────────────────────
	cfg := c.meshConfig(mesh.RoleHost, code)
	cfg.GamePort = gamePort
	cfg.ScaffoldingPort = scaffoldingPort

	handle, err := c.opts.Mesh.Start(stepCtx, cfg)
	if err != nil {
		return lobbycode.Code{}, c.abort(s, fmt.Errorf("failed to start mesh network: %w", err))
	}
	if !s.attachMesh(handle) {
		_ = c.opts.Mesh.Stop(handle)
		return lobbycode.Code{}, c.abort(s, context.Canceled)
	}
	go c.watchMesh(s, handle)

	// ── 3. Scaffolding server ─────────────────────────────────────────
	self := c.self(name)
	self.Kind = player.KindHost
	host := scaffolding.NewHost(self, gamePort)
	if c.opts.PlayerExpiry > 0 {
		host.PlayerExpiry = c.opts.PlayerExpiry
	}
	if c.opts.SweepInterval > 0 {
		host.SweepInterval = c.opts.SweepInterval
	}
	host.OnPlayersChanged = func(p []player.Profile) { c.publishPlayers(s, p) }

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(scaffoldingPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return lobbycode.Code{}, c.abort(s, fmt.Errorf("failed to listen on %s: %w", addr, err))
	}

	done := make(chan struct{})
	if !s.attachHost(host, done) {
		listener.Close()
		return lobbycode.Code{}, c.abort(s, context.Canceled)
	}
	go func() {
		defer close(done)
		if err := host.Serve(s.ctx, listener); err != nil {
			// fail waits for this goroutine through teardown.
			go c.fail(s, fmt.Errorf("scaffolding server stopped: %w", err))
		}
	}()

	if err := stepCtx.Err(); err != nil {
		return lobbycode.Code{}, c.abort(s, err)
	}
	if !c.transitionSession(s, StateCreating, StateConnected) {
		return lobbycode.Code{}, c.abort(s, context.Canceled)
	}

	c.publishPlayers(s, host.Players())
	c.hint(HintInfo, "lobby created, code %s", code.Text)
	util.LogSuccess("[lobby] hosting %s on port %d (scaffolding %d)", code.Format, gamePort, scaffoldingPort)
	return code, nil
}
