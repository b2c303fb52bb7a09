package mesh

import "context"

// Orchestrator stands up and queries the virtual network for one lobby
// session. EasyTier is the process-backed implementation; tests substitute
// their own.
type Orchestrator interface {
	// CheckBinaries reports ErrBinaryMissing when the executables are absent.
	CheckBinaries() error
	// Start launches a process for cfg, replacing any process it started before.
	Start(ctx context.Context, cfg Config) (*Handle, error)
	// Stop terminates the process behind h. It is idempotent.
	Stop(h *Handle) error
	// QueryPeers lists the virtual network's nodes and picks out the host.
	QueryPeers(ctx context.Context, h *Handle) (PeerList, error)
	// AddPortForward exposes targetAddr:targetPort on a fresh local port.
	AddPortForward(ctx context.Context, h *Handle, targetAddr string, targetPort int) (int, error)
	// GetNatStatus probes the local NAT behaviour.
	GetNatStatus(ctx context.Context) (NatStatus, error)
}
