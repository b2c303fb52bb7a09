// Package util provides shared logging, metrics and networking helpers.
package util

import (
	"hash/fnv"
	"net"
)

// ConnID computes a 4-byte identifier from a TCP connection's 4-tuple
// (local address, remote address). It is only used to key registries and
// log lines, so collisions merely merge two log prefixes.
func ConnID(conn net.Conn) uint32 {
	h := fnv.New32a()
	h.Write([]byte(conn.LocalAddr().String()))
	h.Write([]byte(conn.RemoteAddr().String()))
	return h.Sum32()
}
