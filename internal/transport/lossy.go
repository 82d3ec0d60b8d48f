package transport

import (
	"math/rand/v2"
	"net"
	"sync"

	"github.com/1ureka/rudp/internal/util"
)

// LossyConn wraps a PacketConn and silently discards each outbound datagram
// with a fixed probability. It is used to exercise retransmission on links
// that would otherwise never lose anything (loopback, DataChannel).
type LossyConn struct {
	net.PacketConn

	rate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLossyConn returns conn unchanged when rate <= 0.
func NewLossyConn(conn net.PacketConn, rate float64, seed uint64) net.PacketConn {
	if rate <= 0 {
		return conn
	}
	return &LossyConn{
		PacketConn: conn,
		rate:       rate,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// WriteTo reports success for dropped datagrams, like a real lossy network.
func (c *LossyConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	drop := c.rng.Float64() < c.rate
	c.mu.Unlock()

	if drop {
		util.Stats.AddDropped()
		util.LogDebug("injected loss: dropped %d-byte datagram to %s", len(p), addr)
		return len(p), nil
	}
	return c.PacketConn.WriteTo(p, addr)
}
