// Package util provides shared logging, statistics and identification helpers.
package util

import (
	"hash/fnv"
	"net"
)

// SessionID computes a 4-byte hash of a peer address. It only tags log lines
// so that interleaved sessions stay readable; it does not need to be unique.
func SessionID(addr net.Addr) uint32 {
	if addr == nil {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(addr.Network()))
	h.Write([]byte(addr.String()))
	return h.Sum32()
}
