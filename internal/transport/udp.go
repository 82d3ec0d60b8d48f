// Package transport provides the datagram paths RUDP frames travel over.
// Every transport is exposed as a net.PacketConn: unreliable, unordered,
// one frame per datagram.
package transport

import (
	"fmt"
	"net"
	"strconv"
)

// MaxDatagramSize bounds every read buffer; larger datagrams are truncated.
const MaxDatagramSize = 2048

// ListenUDP binds a UDP socket on host:port. Port 0 picks an ephemeral port.
func ListenUDP(host string, port int) (net.PacketConn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return conn, nil
}

// ResolveUDP resolves the remote endpoint an initiator talks to.
func ResolveUDP(host string, port int) (net.Addr, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	return raddr, nil
}

// SameAddr reports whether two addresses name the same endpoint.
func SameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Network() == b.Network() && a.String() == b.String()
}
