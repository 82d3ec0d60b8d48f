// Package protocol defines the RUDP frame format and its codec.
package protocol

import "fmt"

// FrameType identifies the kind of frame on the wire.
type FrameType uint8

// Frame type constants.
const (
	TypeSYN     FrameType = 0x01 // Connection request
	TypeSYNACK  FrameType = 0x02 // Connection request accepted
	TypeACK     FrameType = 0x03 // Final leg of the handshake
	TypeData    FrameType = 0x04 // Sequenced payload chunk
	TypeDataACK FrameType = 0x05 // Acknowledges a chunk index
	TypeFIN     FrameType = 0x06 // Teardown request
	TypeFINACK  FrameType = 0x07 // Teardown accepted
)

// HeaderSize is the fixed header size: Type(1) + Sequence(4) + Length(2).
const HeaderSize = 7

// MaxPayloadSize is the largest payload the 2-byte length field can describe.
const MaxPayloadSize = 0xFFFF

// ControlSeq is the sequence number carried by every non-DATA frame.
const ControlSeq uint32 = 0

var typeNames = map[FrameType]string{
	TypeSYN:     "SYN",
	TypeSYNACK:  "SYN_ACK",
	TypeACK:     "ACK",
	TypeData:    "DATA",
	TypeDataACK: "DATA_ACK",
	TypeFIN:     "FIN",
	TypeFINACK:  "FIN_ACK",
}

func (t FrameType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Valid reports whether t is one of the seven defined frame types.
func (t FrameType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Frame is the unit of wire exchange.
type Frame struct {
	Type     FrameType
	Sequence uint32 // chunk index for DATA / DATA_ACK, ControlSeq otherwise
	Payload  []byte // only used for TypeData
}

// Control builds a payload-less frame with the control sequence.
func Control(t FrameType) *Frame {
	return &Frame{Type: t, Sequence: ControlSeq}
}

// Data builds a DATA frame for chunk seq.
func Data(seq uint32, payload []byte) *Frame {
	return &Frame{Type: TypeData, Sequence: seq, Payload: payload}
}

// DataACK builds an acknowledgment for chunk seq.
func DataACK(seq uint32) *Frame {
	return &Frame{Type: TypeDataACK, Sequence: seq}
}

func (f *Frame) String() string {
	if f.Type == TypeData {
		return fmt.Sprintf("%s seq=%d len=%d", f.Type, f.Sequence, len(f.Payload))
	}
	if f.Type == TypeDataACK {
		return fmt.Sprintf("%s seq=%d", f.Type, f.Sequence)
	}
	return f.Type.String()
}
