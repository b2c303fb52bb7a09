package mesh

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// Executable base names.
const (
	CoreBinary = "easytier-core"
	CLIBinary  = "easytier-cli"
)

// Tuning constants.
const (
	defaultReadyAttempts = 20
	defaultReadyInterval = 250 * time.Millisecond
	stopTimeout          = 5 * time.Second
)

// EasyTier drives the easytier-core process and queries it through
// easytier-cli. At most one process runs per EasyTier value.
type EasyTier struct {
	CorePath string
	CLIPath  string
	Runner   Runner
	Ports    util.PortAllocator

	ReadyAttempts int
	ReadyInterval time.Duration

	mu      sync.Mutex
	current *Handle
}

// NewEasyTier looks for the executables in binDir, or on PATH when binDir
// is empty.
func NewEasyTier(binDir string) *EasyTier {
	return &EasyTier{
		CorePath: binaryPath(binDir, CoreBinary),
		CLIPath:  binaryPath(binDir, CLIBinary),
		Runner:   ExecRunner{},
		Ports:    util.FreePorts,
	}
}

func binaryPath(dir, name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

var _ Orchestrator = (*EasyTier)(nil)

// CheckBinaries implements Orchestrator.
func (e *EasyTier) CheckBinaries() error {
	for _, p := range []string{e.CorePath, e.CLIPath} {
		if _, err := e.Runner.LookPath(p); err != nil {
			return fmt.Errorf("%w: %s", ErrBinaryMissing, p)
		}
	}
	return nil
}

// Start implements Orchestrator. It returns once the process answers on its
// RPC port.
func (e *EasyTier) Start(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := e.CheckBinaries(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev := e.current; prev != nil && prev.Alive() {
		util.LogWarning("[mesh] process %s still running, stopping it first", prev.ID)
		if err := e.stop(prev); err != nil {
			util.LogWarning("[mesh] failed to stop process %s: %v", prev.ID, err)
		}
	}
	e.current = nil

	if cfg.RPCPort == 0 {
		port, err := e.Ports.AllocatePort()
		if err != nil {
			return nil, err
		}
		cfg.RPCPort = port
	}

	proc, err := e.Runner.Start(ctx, e.CorePath, cfg.Args())
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", e.CorePath, err)
	}

	h := NewHandle(uuid.NewString(), cfg.RPCPort, cfg, proc)
	util.Stats.MeshStarted()
	util.LogInfo("[mesh] started %s as %s on network %s (rpc %s)", h.ID, cfg.Role, cfg.NetworkName, h.RPCAddr())

	go func() {
		err := proc.Wait()
		h.MarkExited(err)
		util.Stats.MeshExited()
		if herr := h.Err(); herr != nil {
			util.LogError("[mesh] process %s: %v", h.ID, herr)
		} else {
			util.LogDebug("[mesh] process %s stopped", h.ID)
		}
	}()

	if err := e.waitReady(ctx, h); err != nil {
		_ = e.stop(h)
		return nil, err
	}

	e.current = h
	return h, nil
}

// waitReady polls the RPC port until the cli tool gets an answer.
func (e *EasyTier) waitReady(ctx context.Context, h *Handle) error {
	attempts := e.ReadyAttempts
	if attempts <= 0 {
		attempts = defaultReadyAttempts
	}
	interval := e.ReadyInterval
	if interval <= 0 {
		interval = defaultReadyInterval
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if _, err := e.cli(ctx, h, "peer"); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Done():
			return h.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRPCUnreachable, attempts, lastErr)
}

// Stop implements Orchestrator.
func (e *EasyTier) Stop(h *Handle) error {
	if h == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == h {
		e.current = nil
	}
	return e.stop(h)
}

func (e *EasyTier) stop(h *Handle) error {
	if err := h.Kill(); err != nil {
		return fmt.Errorf("failed to kill mesh process %s: %w", h.ID, err)
	}
	select {
	case <-h.Done():
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("mesh process %s did not exit within %s", h.ID, stopTimeout)
	}
}

// QueryPeers implements Orchestrator.
func (e *EasyTier) QueryPeers(ctx context.Context, h *Handle) (PeerList, error) {
	out, err := e.cli(ctx, h, "peer")
	if err != nil {
		return PeerList{}, err
	}
	peers, err := ParsePeers(out)
	if err != nil {
		return PeerList{}, err
	}
	return ClassifyPeers(peers)
}

// AddPortForward implements Orchestrator. Both TCP and UDP are forwarded
// on the same local port number.
func (e *EasyTier) AddPortForward(ctx context.Context, h *Handle, targetAddr string, targetPort int) (int, error) {
	local, err := e.Ports.AllocatePort()
	if err != nil {
		return 0, err
	}

	bind := "127.0.0.1:" + strconv.Itoa(local)
	dst := targetAddr + ":" + strconv.Itoa(targetPort)
	for _, proto := range []string{"tcp", "udp"} {
		if _, err := e.cli(ctx, h, "port-forward", "add", proto, bind, dst); err != nil {
			return 0, fmt.Errorf("failed to forward %s %s -> %s: %w", proto, bind, dst, err)
		}
	}

	util.LogInfo("[mesh] forwarding %s -> %s", bind, dst)
	return local, nil
}

// GetNatStatus implements Orchestrator.
func (e *EasyTier) GetNatStatus(ctx context.Context) (NatStatus, error) {
	if err := e.CheckBinaries(); err != nil {
		return NatStatus{}, err
	}
	out, err := e.Runner.Output(ctx, e.CLIPath, []string{"-o", "json", "stun"})
	if err != nil {
		return NatStatus{}, err
	}
	return ParseNatStatus(out)
}

// cli runs a read-only or management command against h's RPC port.
func (e *EasyTier) cli(ctx context.Context, h *Handle, args ...string) ([]byte, error) {
	if h == nil || !h.Alive() {
		return nil, ErrNotRunning
	}
	full := append([]string{"-p", h.RPCAddr(), "-o", "json"}, args...)
	out, err := e.Runner.Output(ctx, e.CLIPath, full)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%s %v: %w", CLIBinary, args, err)
	}
	return out, nil
}
