package wire

import (
	"errors"
	"fmt"
)

// Message codes. Codes 0 and 1 are interpreted by the receiving peer:
// register/deregister toward the registry, start/stop toward the MEC app.
const (
	CodeRegister       uint8 = 0
	CodeDeregister     uint8 = 1
	CodeStart          uint8 = 0
	CodeStop           uint8 = 1
	CodeAlert          uint8 = 2
	CodeStartAck       uint8 = 3
	CodeResendStart    uint8 = 4
	CodePositionReport uint8 = 5
)

const (
	// HeaderSize is the [code:1][length:1] prefix of every datagram.
	HeaderSize = 2

	// MaxPayloadSize is bounded by the single length byte.
	MaxPayloadSize = 255
)

var (
	// ErrMalformedMessage is returned for datagrams shorter than their header
	// or than the payload length they declare.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrPayloadTooLarge is returned when a payload does not fit the length byte.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Message is a decoded datagram.
// Layout: [Code:1][Length:1][Payload:Length]
type Message struct {
	Code    uint8
	Payload []byte
}

// Encode builds the datagram for code and payload.
func Encode(code uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (maximum %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = code
	buf[1] = uint8(len(payload))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode parses a datagram. Bytes after the declared payload are ignored;
// senders may pad datagrams to a fixed size.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrMalformedMessage, HeaderSize, len(data))
	}

	length := int(data[1])
	if length > len(data)-HeaderSize {
		return nil, fmt.Errorf("%w: declared length %d exceeds remaining %d bytes",
			ErrMalformedMessage, length, len(data)-HeaderSize)
	}

	payload := make([]byte, length)
	copy(payload, data[HeaderSize:HeaderSize+length])

	return &Message{Code: data[0], Payload: payload}, nil
}

// PeekCode returns the code byte of a datagram without decoding it.
func PeekCode(data []byte) (uint8, bool) {
	if len(data) == 0 {
		return 0, false
	}
	return data[0], true
}

// Bytes encodes the message.
func (m *Message) Bytes() ([]byte, error) {
	return Encode(m.Code, m.Payload)
}

// String returns a human-readable representation of the message
func (m *Message) String() string {
	return fmt.Sprintf("Message{Code:%d, Len:%d, Payload:%q}", m.Code, len(m.Payload), m.Payload)
}
