package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/transport/v4/deadline"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rudp/internal/util"
)

const (
	highWaterMark   = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark    = 64 * 1024  // resume sending when bufferedAmount drops below this
	inboxBufferSize = 64         // inbound datagram queue capacity
)

// channelAddr names the two ends of a DataChannel. There is exactly one
// remote per channel, so the address is a fixed label.
type channelAddr string

func (a channelAddr) Network() string { return "webrtc" }
func (a channelAddr) String() string  { return string(a) }

var (
	localChannelAddr  = channelAddr("local")
	remoteChannelAddr = channelAddr("peer")
)

// WebRTCConn carries datagrams over a single PeerConnection + DataChannel
// pair. It exposes the signaling steps needed to bring the channel up and,
// once Ready fires, implements net.PacketConn.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time.
type WebRTCConn struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	openSignal  chan struct{}
	drainSignal chan struct{}
	inbox       chan []byte

	readDeadline *deadline.Deadline

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

var _ net.PacketConn = (*WebRTCConn)(nil)

// NewWebRTCConn creates a WebRTCConn backed by a new PeerConnection and a
// pre-negotiated datagram channel. The caller performs signaling via the
// exposed methods (CreateOffer / CreateAnswer / …) and waits on Ready before
// using it as a PacketConn.
func NewWebRTCConn(ctx context.Context) (*WebRTCConn, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, err
	}

	dc, err := newDatagramChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	cCtx, cCancel := context.WithCancel(ctx)

	c := &WebRTCConn{
		pc:           pc,
		dc:           dc,
		openSignal:   make(chan struct{}),
		drainSignal:  make(chan struct{}, 1),
		inbox:        make(chan []byte, inboxBufferSize),
		readDeadline: deadline.New(),
		ctx:          cCtx,
		cancel:       cCancel,
		pcState:      webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(c.openSignal) })
	})

	// DC close → cancel conn context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		cCancel()
	})

	// Inbound datagrams; a full queue drops, like a socket receive buffer.
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		select {
		case c.inbox <- data:
		default:
			util.Stats.AddDropped()
			util.LogDebug("DataChannel inbox full, dropping %d-byte datagram", len(data))
		}
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drainSignal <- struct{}{}:
		default:
		}
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		c.mu.Lock()
		c.pcState = state
		c.mu.Unlock()
	})

	return c, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (c *WebRTCConn) Ready() <-chan struct{} {
	return c.openSignal
}

// Done returns a channel that is closed when the conn is shut down
// (DataChannel closed or parent context cancelled).
func (c *WebRTCConn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (c *WebRTCConn) Close() error {
	c.cancel()
	return errors.Join(c.dc.Close(), c.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (c *WebRTCConn) ConnectionState() webrtc.PeerConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pcState
}

// RemoteAddr is the address ReadFrom reports for every datagram.
func (c *WebRTCConn) RemoteAddr() net.Addr {
	return remoteChannelAddr
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (c *WebRTCConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (c *WebRTCConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (c *WebRTCConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (c *WebRTCConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (c *WebRTCConn) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	c.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (c *WebRTCConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// net.PacketConn
// ---------------------------------------------------------------------------

// ReadFrom blocks for the next datagram, the read deadline, or shutdown.
// Datagrams longer than p are truncated, as with a UDP socket.
func (c *WebRTCConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case data := <-c.inbox:
		return copy(p, data), remoteChannelAddr, nil
	case <-c.readDeadline.Done():
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.ctx.Done():
		return 0, nil, net.ErrClosed
	}
}

// WriteTo sends p to the single remote end; addr is not consulted. It blocks
// while the SCTP buffer is above the high water mark.
func (c *WebRTCConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	select {
	case <-c.openSignal:
	case <-c.ctx.Done():
		return 0, net.ErrClosed
	}

	if c.dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-c.drainSignal:
		case <-c.ctx.Done():
			return 0, net.ErrClosed
		}
	}

	if err := c.dc.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// LocalAddr returns the local channel label.
func (c *WebRTCConn) LocalAddr() net.Addr {
	return localChannelAddr
}

// SetDeadline sets the read deadline; writes never block on the network.
func (c *WebRTCConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

// SetReadDeadline bounds the current and future ReadFrom calls.
func (c *WebRTCConn) SetReadDeadline(t time.Time) error {
	c.readDeadline.Set(t)
	return nil
}

// SetWriteDeadline is a no-op.
func (c *WebRTCConn) SetWriteDeadline(time.Time) error {
	return nil
}
