package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PCL-Community/PCL.Core-sub001/internal/lobbycode"
	"github.com/PCL-Community/PCL.Core-sub001/internal/mesh"
	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
	"github.com/PCL-Community/PCL.Core-sub001/internal/scaffolding"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// Session is one lobby attempt. It is owned by the Controller that created
// it; at most one mesh process and one scaffolding endpoint belong to it.
type Session struct {
	ID   string
	Role Role
	Code lobbycode.Code

	// GamePort is the host's game port; LocalGamePort is where a joiner
	// reaches it through the mesh.
	GamePort      int
	LocalGamePort int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	mesh     *mesh.Handle
	host     *scaffolding.Host
	hostDone chan struct{}
	client   *scaffolding.Client
	players  []player.Profile

	teardownOnce sync.Once
	teardownErr  error
}

func newSession(role Role) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:     uuid.NewString(),
		Role:   role,
		ctx:    ctx,
		cancel: cancel,
	}
}

// stepContext derives a context for one blocking start step: it ends when
// either the caller gives up or the session is torn down.
func (s *Session) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	stepCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return stepCtx, func() {
		stop()
		cancel()
	}
}

// attachMesh records h. It reports false when the session was already torn
// down; the caller then owns h and must stop it.
func (s *Session) attachMesh(h *mesh.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.mesh = h
	return true
}

func (s *Session) attachHost(h *scaffolding.Host, done chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.host, s.hostDone = h, done
	return true
}

func (s *Session) attachClient(c *scaffolding.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.client = c
	return true
}

func (s *Session) meshHandle() *mesh.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mesh
}

// Players returns a copy of the roster, host first.
func (s *Session) Players() []player.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return player.Clone(s.players)
}

func (s *Session) setPlayers(p []player.Profile) {
	s.mu.Lock()
	s.players = player.HostFirst(p)
	s.mu.Unlock()
}

// teardown stops the endpoint and the mesh process concurrently. Only the
// first call does any work; later calls return its result.
func (s *Session) teardown(orch mesh.Orchestrator) error {
	s.teardownOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closed = true
		handle, client, hostDone := s.mesh, s.client, s.hostDone
		s.players = nil
		s.mu.Unlock()

		var g errgroup.Group
		g.Go(func() error {
			if client != nil {
				client.Close()
			}
			if hostDone != nil {
				<-hostDone
			}
			return nil
		})
		g.Go(func() error {
			if handle == nil {
				return nil
			}
			if err := orch.Stop(handle); err != nil && !errors.Is(err, mesh.ErrNotRunning) {
				return fmt.Errorf("failed to stop mesh network: %w", err)
			}
			return nil
		})
		s.teardownErr = g.Wait()
		util.Stats.SetPlayers(0)
		util.LogDebug("[lobby] session %s torn down", s.ID)
	})
	return s.teardownErr
}
