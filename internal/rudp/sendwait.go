// Package rudp implements the RUDP connection state machines: a blocking
// initiator that pushes a byte stream as stop-and-wait chunks, and a reactive
// responder that serves one peer at a time.
package rudp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// Outcome is the result of one send-and-wait step.
type Outcome int

const (
	// OutcomeMatched: a response satisfying the Expect arrived in time.
	OutcomeMatched Outcome = iota
	// OutcomeTimeout: the attempt's deadline passed without a match; the
	// caller may retry.
	OutcomeTimeout
	// OutcomeExhausted: every attempt timed out.
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Expect describes which response ends a send-and-wait step.
type Expect struct {
	Types    []protocol.FrameType
	Seq      uint32
	MatchSeq bool // when false, Seq is ignored
}

// ExpectType accepts any frame of the given types.
func ExpectType(types ...protocol.FrameType) Expect {
	return Expect{Types: types}
}

// ExpectSeq accepts a frame of type t carrying exactly seq.
func ExpectSeq(t protocol.FrameType, seq uint32) Expect {
	return Expect{Types: []protocol.FrameType{t}, Seq: seq, MatchSeq: true}
}

// Match reports whether f satisfies the expectation.
func (e Expect) Match(f *protocol.Frame) bool {
	if !slices.Contains(e.Types, f.Type) {
		return false
	}
	return !e.MatchSeq || f.Sequence == e.Seq
}

// Result is what a send-and-wait step ended with.
type Result struct {
	Outcome  Outcome
	Frame    *protocol.Frame // the matching response, only for OutcomeMatched
	Attempts int
}

// exchanger is the single place retransmission lives. It owns the read side
// of conn for the duration of each step and is not safe for concurrent use.
type exchanger struct {
	conn        net.PacketConn
	peer        net.Addr
	timeout     time.Duration
	maxAttempts int
	buf         []byte
}

func newExchanger(conn net.PacketConn, peer net.Addr, timeout time.Duration, maxAttempts int) *exchanger {
	return &exchanger{
		conn:        conn,
		peer:        peer,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		buf:         make([]byte, transport.MaxDatagramSize),
	}
}

// send encodes f and writes it to the peer once.
func (x *exchanger) send(f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	if _, err := x.conn.WriteTo(data, x.peer); err != nil {
		return fmt.Errorf("failed to send %s: %w", f, err)
	}
	util.Stats.AddSent()
	return nil
}

// sendAndWait runs ATTEMPTING(n) → MATCHED | TIMEOUT(retry) | EXHAUSTED.
// The returned error is reserved for transport failures and cancellation;
// running out of attempts is reported as OutcomeExhausted.
func (x *exchanger) sendAndWait(ctx context.Context, f *protocol.Frame, want Expect) (Result, error) {
	defer x.conn.SetReadDeadline(time.Time{})

	for n := 1; n <= x.maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: n - 1}, err
		}
		if n > 1 {
			util.Stats.AddRetransmit()
			util.LogDebug("retransmit %s (attempt %d/%d)", f, n, x.maxAttempts)
		}

		resp, outcome, err := x.attempt(ctx, f, want)
		if err != nil {
			return Result{Attempts: n}, err
		}
		if outcome == OutcomeMatched {
			return Result{Outcome: OutcomeMatched, Frame: resp, Attempts: n}, nil
		}
	}

	// A cancellation that woke the last read is not an exhausted budget.
	if err := ctx.Err(); err != nil {
		return Result{Attempts: x.maxAttempts}, err
	}
	return Result{Outcome: OutcomeExhausted, Attempts: x.maxAttempts}, nil
}

// attempt sends f once and reads until a matching response or the attempt
// deadline. Non-matching datagrams are noise: they neither end the attempt
// nor extend its deadline.
func (x *exchanger) attempt(ctx context.Context, f *protocol.Frame, want Expect) (*protocol.Frame, Outcome, error) {
	if err := x.send(f); err != nil {
		return nil, OutcomeTimeout, err
	}

	if err := x.conn.SetReadDeadline(time.Now().Add(x.timeout)); err != nil {
		return nil, OutcomeTimeout, err
	}
	// A cancellation that landed before the line above had its wake-up
	// deadline overwritten.
	if err := ctx.Err(); err != nil {
		return nil, OutcomeTimeout, err
	}

	for {
		n, from, err := x.conn.ReadFrom(x.buf)
		if err != nil {
			if isTimeout(err) {
				return nil, OutcomeTimeout, nil
			}
			return nil, OutcomeTimeout, fmt.Errorf("failed to read response: %w", err)
		}

		if !transport.SameAddr(from, x.peer) {
			util.Stats.AddDropped()
			util.LogDebug("ignoring datagram from unexpected address %s", from)
			continue
		}

		resp, err := protocol.Decode(x.buf[:n])
		if err != nil {
			util.Stats.AddDropped()
			util.LogDebug("dropping malformed datagram: %v", err)
			continue
		}
		util.Stats.AddRecv()

		if !want.Match(resp) {
			util.LogDebug("ignoring %s while waiting for %v", resp, want.Types)
			continue
		}
		return resp, OutcomeMatched, nil
	}
}

// isTimeout reports whether err is a read-deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
