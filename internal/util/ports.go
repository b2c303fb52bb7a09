package util

import (
	"fmt"
	"net"
)

// PortAllocator hands out local TCP ports that are free at the time of the call.
type PortAllocator interface {
	AllocatePort() (int, error)
}

// PortAllocatorFunc adapts a plain function to PortAllocator.
type PortAllocatorFunc func() (int, error)

func (f PortAllocatorFunc) AllocatePort() (int, error) { return f() }

// FreePorts allocates ports by briefly binding 127.0.0.1:0.
var FreePorts PortAllocator = PortAllocatorFunc(FreeTCPPort)

// FreeTCPPort asks the kernel for an unused loopback TCP port. The port is
// released before returning, so another process may race us for it.
func FreeTCPPort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate tcp port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
