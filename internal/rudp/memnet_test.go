package rudp

import (
	"math/rand/v2"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1ureka/rudp/internal/protocol"
)

// Compile-time interface check.
var _ net.PacketConn = (*memConn)(nil)

// memAddr names an endpoint on a memNet.
type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// dropFunc decides whether a datagram is lost in transit. f is nil for
// datagrams that do not decode.
type dropFunc func(from, to net.Addr, f *protocol.Frame) bool

// memNet is an in-process datagram network. Datagrams are delivered to the
// destination's inbox after a random delay in [0, maxDelay), so they may be
// reordered; drop decides which ones never arrive.
type memNet struct {
	mu       sync.Mutex
	conns    map[string]*memConn
	maxDelay time.Duration
	drop     dropFunc
}

func newMemNet(maxDelay time.Duration, drop dropFunc) *memNet {
	return &memNet{
		conns:    make(map[string]*memConn),
		maxDelay: maxDelay,
		drop:     drop,
	}
}

// listen attaches a new endpoint named addr.
func (n *memNet) listen(addr string) *memConn {
	c := &memConn{
		net:    n,
		addr:   memAddr(addr),
		inbox:  make(chan memDatagram, 1024),
		wake:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	n.mu.Lock()
	n.conns[addr] = c
	n.mu.Unlock()
	return c
}

type memDatagram struct {
	data []byte
	from net.Addr
}

// memConn implements net.PacketConn on a memNet.
type memConn struct {
	net  *memNet
	addr memAddr

	inbox chan memDatagram

	mu       sync.Mutex
	deadline time.Time
	wake     chan struct{} // closed whenever the deadline changes

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *memConn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		c.mu.Lock()
		dl, wake := c.deadline, c.wake
		c.mu.Unlock()

		var expired <-chan time.Time
		if !dl.IsZero() {
			d := time.Until(dl)
			if d <= 0 {
				return 0, nil, os.ErrDeadlineExceeded
			}
			t := time.NewTimer(d)
			defer t.Stop()
			expired = t.C
		}

		select {
		case dg := <-c.inbox:
			return copy(p, dg.data), dg.from, nil
		case <-expired:
			return 0, nil, os.ErrDeadlineExceeded
		case <-wake:
			continue
		case <-c.closed:
			return 0, nil, net.ErrClosed
		}
	}
}

func (c *memConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.net.mu.Lock()
	dst, ok := c.net.conns[addr.String()]
	drop := c.net.drop
	maxDelay := c.net.maxDelay
	c.net.mu.Unlock()

	if !ok {
		return len(p), nil // nobody listening: the datagram vanishes
	}

	data := make([]byte, len(p))
	copy(data, p)

	if drop != nil {
		f, _ := protocol.Decode(data)
		if drop(c.addr, dst.addr, f) {
			return len(p), nil
		}
	}

	dg := memDatagram{data: data, from: c.addr}
	if maxDelay <= 0 {
		dst.enqueue(dg)
		return len(p), nil
	}

	go func() {
		delay := time.Duration(rand.Int64N(int64(maxDelay)))
		select {
		case <-time.After(delay):
			dst.enqueue(dg)
		case <-dst.closed:
		}
	}()
	return len(p), nil
}

func (c *memConn) enqueue(dg memDatagram) {
	select {
	case c.inbox <- dg:
	default:
	}
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *memConn) LocalAddr() net.Addr { return c.addr }

func (c *memConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *memConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()
	return nil
}

func (c *memConn) SetWriteDeadline(time.Time) error { return nil }

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// frameLog records frames seen by a drop filter.
type frameLog struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (l *frameLog) add(f *protocol.Frame) {
	if f == nil {
		return
	}
	l.mu.Lock()
	l.frames = append(l.frames, protocol.Frame{Type: f.Type, Sequence: f.Sequence})
	l.mu.Unlock()
}

// seqs returns the sequence numbers of all recorded frames of type t.
func (l *frameLog) seqs(t protocol.FrameType) []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []uint32
	for _, f := range l.frames {
		if f.Type == t {
			out = append(out, f.Sequence)
		}
	}
	return out
}

// makeTestData generates deterministic printable test data of the given size.
func makeTestData(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = 'a' + (byte(i%26)+seed)%26
	}
	return data
}

// noDelay disables the responder's artificial acknowledgment delay.
func noDelay() time.Duration { return 0 }
