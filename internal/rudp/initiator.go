package rudp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/util"
)

// Failure sentinels; a *FailedError returned by Initiator.Run matches exactly
// one of them with errors.Is.
var (
	ErrHandshakeFailed = errors.New("handshake failed: no SYN_ACK")
	ErrTransferFailed  = errors.New("transfer failed: no DATA_ACK")
	ErrTeardownFailed  = errors.New("teardown failed: no FIN_ACK")
)

// FailedError reports which step exhausted its retry budget.
type FailedError struct {
	Phase    State // state the initiator was in when it gave up
	Chunk    int   // chunk index, only meaningful for StateTransferring
	Attempts int
}

func (e *FailedError) Error() string {
	if e.Phase == StateTransferring {
		return fmt.Sprintf("%v at seq=%d after %d attempts", e.sentinel(), e.Chunk, e.Attempts)
	}
	return fmt.Sprintf("%v after %d attempts", e.sentinel(), e.Attempts)
}

func (e *FailedError) Unwrap() error { return e.sentinel() }

func (e *FailedError) sentinel() error {
	switch e.Phase {
	case StateHandshaking:
		return ErrHandshakeFailed
	case StateTransferring:
		return ErrTransferFailed
	default:
		return ErrTeardownFailed
	}
}

// State is the initiator's position in INIT → HANDSHAKING → ESTABLISHED →
// TRANSFERRING(i) → CLOSING → CLOSED, with FAILED reachable from any
// non-terminal state.
type State int

const (
	StateInit State = iota
	StateHandshaking
	StateEstablished
	StateTransferring
	StateClosing
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateInit:         "INIT",
	StateHandshaking:  "HANDSHAKING",
	StateEstablished:  "ESTABLISHED",
	StateTransferring: "TRANSFERRING",
	StateClosing:      "CLOSING",
	StateClosed:       "CLOSED",
	StateFailed:       "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// InitiatorConfig holds the per-step retry parameters.
type InitiatorConfig struct {
	Timeout     time.Duration // per-attempt wait for a response
	MaxAttempts int           // attempts per step before giving up
	ChunkSize   int           // payload bytes per DATA frame
}

// DefaultInitiatorConfig returns 0.5s / 5 attempts / 200-byte chunks.
func DefaultInitiatorConfig() InitiatorConfig {
	return InitiatorConfig{
		Timeout:     500 * time.Millisecond,
		MaxAttempts: 5,
		ChunkSize:   200,
	}
}

// Initiator drives one connection: handshake, chunked transfer, teardown.
// A session is scoped to a single Run and owned by the calling goroutine.
type Initiator struct {
	cfg  InitiatorConfig
	peer net.Addr
	x    *exchanger

	state State
	chunk int

	// OnState, if set, is called after every transition. chunk is the
	// current chunk index while transferring.
	OnState func(state State, chunk int)
}

// NewInitiator prepares a session towards peer over conn. The caller keeps
// ownership of conn and closes it after Run returns, whatever the outcome.
func NewInitiator(conn net.PacketConn, peer net.Addr, cfg InitiatorConfig) *Initiator {
	return &Initiator{
		cfg:   cfg,
		peer:  peer,
		x:     newExchanger(conn, peer, cfg.Timeout, cfg.MaxAttempts),
		state: StateInit,
	}
}

// State returns the current state.
func (in *Initiator) State() State {
	return in.state
}

// Run opens the connection, sends data as sequenced chunks and tears the
// connection down. It returns nil once CLOSED; a *FailedError when a step
// exhausts its retries; or the transport / context error that interrupted it.
func (in *Initiator) Run(ctx context.Context, data []byte) error {
	if in.state != StateInit {
		return fmt.Errorf("initiator already used (state %s)", in.state)
	}

	// Wake a pending read as soon as ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		in.x.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := in.handshake(ctx); err != nil {
		return in.fail(err)
	}
	if err := in.transfer(ctx, Chunks(data, in.cfg.ChunkSize)); err != nil {
		return in.fail(err)
	}
	if err := in.teardown(ctx); err != nil {
		return in.fail(err)
	}
	return nil
}

// handshake: INIT → HANDSHAKING → ESTABLISHED.
func (in *Initiator) handshake(ctx context.Context) error {
	in.transition(StateHandshaking)
	util.LogInfo("SYN → %s", in.peer)

	res, err := in.x.sendAndWait(ctx, protocol.Control(protocol.TypeSYN), ExpectType(protocol.TypeSYNACK))
	if err != nil {
		return err
	}
	if res.Outcome != OutcomeMatched {
		return &FailedError{Phase: StateHandshaking, Attempts: res.Attempts}
	}
	util.LogInfo("SYN_ACK ← %s", in.peer)

	// Final leg is fire-and-forget: the responder never acknowledges it.
	if err := in.x.send(protocol.Control(protocol.TypeACK)); err != nil {
		return err
	}
	in.transition(StateEstablished)
	util.LogSuccess("connection established")
	return nil
}

// transfer: ESTABLISHED → TRANSFERRING(0..n-1), one chunk in flight at a time.
func (in *Initiator) transfer(ctx context.Context, chunks [][]byte) error {
	for i, chunk := range chunks {
		in.chunk = i
		in.transition(StateTransferring)
		seq := uint32(i)

		util.LogDebug("DATA seq=%d len=%d", seq, len(chunk))
		res, err := in.x.sendAndWait(ctx, protocol.Data(seq, chunk), ExpectSeq(protocol.TypeDataACK, seq))
		if err != nil {
			return err
		}
		if res.Outcome != OutcomeMatched {
			return &FailedError{Phase: StateTransferring, Chunk: i, Attempts: res.Attempts}
		}
		util.LogInfo("DATA_ACK seq=%d (%d/%d)", seq, i+1, len(chunks))
	}
	return nil
}

// teardown: → CLOSING → CLOSED.
func (in *Initiator) teardown(ctx context.Context) error {
	in.transition(StateClosing)
	util.LogInfo("FIN → %s", in.peer)

	res, err := in.x.sendAndWait(ctx, protocol.Control(protocol.TypeFIN), ExpectType(protocol.TypeFINACK))
	if err != nil {
		return err
	}
	if res.Outcome != OutcomeMatched {
		return &FailedError{Phase: StateClosing, Attempts: res.Attempts}
	}
	in.transition(StateClosed)
	util.LogSuccess("connection closed")
	return nil
}

// fail moves to FAILED and passes err through.
func (in *Initiator) fail(err error) error {
	in.transition(StateFailed)
	return err
}

func (in *Initiator) transition(s State) {
	in.state = s
	if in.OnState != nil {
		in.OnState(s, in.chunk)
	}
}

// Chunks splits data into consecutive slices of at most size bytes. The
// slices alias data. Empty data yields no chunks.
func Chunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = len(data)
	}
	var chunks [][]byte
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		chunks = append(chunks, data[off:end])
	}
	return chunks
}
