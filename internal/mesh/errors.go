// Package mesh supervises the external mesh-VPN process that gives every
// lobby participant a stable virtual address, whatever NAT they sit behind.
package mesh

import "errors"

var (
	// ErrDuplicateHost is returned when more than one peer claims the lobby
	// host hostname. The lobby is in an inconsistent state and must not be
	// joined.
	ErrDuplicateHost = errors.New("more than one lobby host in mesh network")

	// ErrBinaryMissing is returned when the mesh executables are not installed.
	ErrBinaryMissing = errors.New("mesh network binaries not found")

	// ErrNotRunning is returned when operating on a handle whose process exited.
	ErrNotRunning = errors.New("mesh process is not running")

	// ErrProcessExited is reported by Handle.Err when the process stopped on
	// its own without an error status.
	ErrProcessExited = errors.New("mesh process exited unexpectedly")

	// ErrRPCUnreachable is returned when the process never answered on its
	// RPC port after start.
	ErrRPCUnreachable = errors.New("mesh process rpc unreachable")
)
