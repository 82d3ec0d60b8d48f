package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortFrame is returned by Decode for buffers smaller than HeaderSize.
var ErrShortFrame = errors.New("frame too short")

// ErrPayloadTooLarge is returned by Encode when the payload does not fit the
// 2-byte length field.
var ErrPayloadTooLarge = errors.New("payload too large")

// Encode serializes a Frame into a byte slice for datagram transmission.
func Encode(f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(f.Payload), MaxPayloadSize)
	}
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = uint8(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], f.Sequence)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// Decode deserializes a datagram into a Frame. The payload is copied, never
// aliased to data. A buffer that underruns the declared length yields the
// bytes that are present.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortFrame, len(data), HeaderSize)
	}
	f := &Frame{
		Type:     FrameType(data[0]),
		Sequence: binary.BigEndian.Uint32(data[1:5]),
	}
	length := int(binary.BigEndian.Uint16(data[5:7]))
	body := data[HeaderSize:]
	if length > len(body) {
		length = len(body)
	}
	if length > 0 {
		f.Payload = make([]byte, length)
		copy(f.Payload, body[:length])
	}
	return f, nil
}
