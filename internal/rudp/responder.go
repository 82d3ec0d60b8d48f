package rudp

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"time"

	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// Phase is the responder-side connection phase.
type Phase int

const (
	PhaseListening Phase = iota
	PhaseEstablished
)

func (p Phase) String() string {
	if p == PhaseEstablished {
		return "ESTABLISHED"
	}
	return "LISTENING"
}

// ResponderConfig controls the artificial acknowledgment delay and where
// in-order payloads go.
type ResponderConfig struct {
	AckDelayMin time.Duration
	AckDelayMax time.Duration

	// Sink receives every in-order payload exactly once. Nil discards.
	Sink io.Writer

	// Delay overrides the uniform [AckDelayMin, AckDelayMax] draw.
	Delay func() time.Duration
}

// DefaultResponderConfig returns a 100ms–1000ms delay and no sink.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		AckDelayMin: 100 * time.Millisecond,
		AckDelayMax: 1000 * time.Millisecond,
	}
}

// session is the complete state of one bound peer. It is created on the
// first SYN and dropped on FIN; only the responder's dispatch loop touches it.
type session struct {
	id          uint32
	peer        net.Addr
	phase       Phase
	expectedSeq uint32
}

func newSession(peer net.Addr) *session {
	return &session{
		id:    util.SessionID(peer),
		peer:  peer,
		phase: PhaseListening,
	}
}

// Responder accepts one connection at a time on conn and acknowledges
// in-order data. It is purely reactive: Serve handles each inbound frame to
// completion, delay included, before reading the next.
type Responder struct {
	conn  net.PacketConn
	sink  io.Writer
	delay func() time.Duration

	sess *session // nil while no peer is bound
}

// NewResponder prepares a responder on an already bound conn.
func NewResponder(conn net.PacketConn, cfg ResponderConfig) *Responder {
	r := &Responder{
		conn:  conn,
		sink:  cfg.Sink,
		delay: cfg.Delay,
	}
	if r.sink == nil {
		r.sink = io.Discard
	}
	if r.delay == nil {
		r.delay = uniformDelay(cfg.AckDelayMin, cfg.AckDelayMax)
	}
	return r
}

// uniformDelay draws uniformly from [lo, hi].
func uniformDelay(lo, hi time.Duration) func() time.Duration {
	return func() time.Duration {
		if hi <= lo {
			return max(lo, 0)
		}
		return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
	}
}

// Serve reads frames until ctx is cancelled (returns nil) or the transport
// fails. Malformed datagrams are dropped; nothing a peer sends is fatal.
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		r.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	util.LogInfo("listening on %s", r.conn.LocalAddr())

	buf := make([]byte, transport.MaxDatagramSize)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil // normal shutdown
			}
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("failed to read datagram: %w", err)
		}

		f, err := protocol.Decode(buf[:n])
		if err != nil {
			util.Stats.AddDropped()
			util.LogDebug("dropping malformed datagram from %s: %v", from, err)
			continue
		}
		util.Stats.AddRecv()

		r.dispatch(ctx, f, from)
	}
}

// dispatch routes a frame to the bound session, binding one on the first SYN.
// Frames from any other address are ignored without reply.
func (r *Responder) dispatch(ctx context.Context, f *protocol.Frame, from net.Addr) {
	if r.sess == nil {
		if f.Type != protocol.TypeSYN {
			util.LogDebug("ignoring %s from %s: no connection", f, from)
			return
		}
		r.sess = newSession(from)
		util.LogInfo("[%08x] got SYN from %s", r.sess.id, from)
		r.reply(r.sess, protocol.Control(protocol.TypeSYNACK))
		return
	}

	if !transport.SameAddr(from, r.sess.peer) {
		util.LogDebug("ignoring %s from %s: bound to %s", f, from, r.sess.peer)
		return
	}

	switch r.sess.phase {
	case PhaseListening:
		r.handleListening(f)
	case PhaseEstablished:
		r.handleEstablished(ctx, f)
	}
}

// handleListening: the peer is bound but has not completed the handshake.
// Repeated SYNs are ignored.
func (r *Responder) handleListening(f *protocol.Frame) {
	s := r.sess
	if f.Type != protocol.TypeACK {
		util.LogDebug("[%08x] ignoring %s before handshake completes", s.id, f)
		return
	}
	s.phase = PhaseEstablished
	s.expectedSeq = 0
	util.LogSuccess("[%08x] connection established", s.id)
}

func (r *Responder) handleEstablished(ctx context.Context, f *protocol.Frame) {
	s := r.sess
	switch f.Type {
	case protocol.TypeData:
		r.handleData(ctx, s, f)

	case protocol.TypeFIN:
		util.LogInfo("[%08x] FIN received from %s", s.id, s.peer)
		r.reply(s, protocol.Control(protocol.TypeFINACK))
		r.sess = nil
		util.LogSuccess("[%08x] connection closed", s.id)

	default:
		util.LogDebug("[%08x] ignoring %s", s.id, f)
	}
}

// handleData delivers in-order chunks once and re-acknowledges everything
// else with the last delivered index, after the artificial delay.
func (r *Responder) handleData(ctx context.Context, s *session, f *protocol.Frame) {
	delay := r.delay()
	if !sleep(ctx, delay) {
		return
	}

	if f.Sequence != s.expectedSeq {
		last := s.lastDelivered()
		util.LogWarning("[%08x] out-of-order DATA seq=%d (expect %d); re-ACK %d (delay=%dms)",
			s.id, f.Sequence, s.expectedSeq, last, delay.Milliseconds())
		r.reply(s, protocol.DataACK(last))
		return
	}

	util.LogInfo("[%08x] DATA seq=%d len=%d (delay=%dms)", s.id, f.Sequence, len(f.Payload), delay.Milliseconds())
	if _, err := r.sink.Write(f.Payload); err != nil {
		util.LogError("[%08x] sink write failed: %v", s.id, err)
	}
	util.Stats.AddDelivered(len(f.Payload))

	r.reply(s, protocol.DataACK(f.Sequence))
	s.expectedSeq++
}

// lastDelivered is max(expectedSeq-1, 0).
func (s *session) lastDelivered() uint32 {
	if s.expectedSeq == 0 {
		return 0
	}
	return s.expectedSeq - 1
}

// reply sends f to the session's peer. Send failures are logged only; the
// peer's retransmission covers them.
func (r *Responder) reply(s *session, f *protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		util.LogError("[%08x] failed to encode %s: %v", s.id, f, err)
		return
	}
	if _, err := r.conn.WriteTo(data, s.peer); err != nil {
		util.LogWarning("[%08x] failed to send %s: %v", s.id, f, err)
		return
	}
	util.Stats.AddSent()
}

// sleep waits for d or ctx, reporting false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
