package mesh

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle tracks one running mesh process. It is created by an Orchestrator
// and stays valid after the process exits so callers can inspect Err.
type Handle struct {
	ID      string
	RPCPort int
	Config  Config

	proc     Process
	done     chan struct{}
	exitOnce sync.Once
	stopping atomic.Bool

	mu  sync.Mutex
	err error
}

// NewHandle wraps proc. proc may be nil for handles that are not backed by
// an operating system process.
func NewHandle(id string, rpcPort int, cfg Config, proc Process) *Handle {
	return &Handle{
		ID:      id,
		RPCPort: rpcPort,
		Config:  cfg,
		proc:    proc,
		done:    make(chan struct{}),
	}
}

// RPCAddr is the loopback address of the process's management port.
func (h *Handle) RPCAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", h.RPCPort)
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Err returns why the process exited. A deliberate Kill reports nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// MarkExited records that the process is gone. Only the first call counts.
func (h *Handle) MarkExited(err error) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		switch {
		case h.stopping.Load():
			h.err = nil
		case err == nil:
			h.err = ErrProcessExited
		default:
			h.err = fmt.Errorf("%w: %v", ErrProcessExited, err)
		}
		h.mu.Unlock()
		close(h.done)
	})
}

// Kill terminates the process. Calling it more than once is harmless.
func (h *Handle) Kill() error {
	if !h.Alive() || !h.stopping.CompareAndSwap(false, true) {
		return nil
	}
	if h.proc == nil {
		h.MarkExited(nil)
		return nil
	}
	return h.proc.Kill()
}
