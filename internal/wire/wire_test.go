package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Message
		expectError bool
		errorMsg    string
	}{
		{
			name:     "start message",
			data:     append([]byte{0x00, 0x09}, []byte("210,260,6")...),
			expected: &Message{Code: CodeStart, Payload: []byte("210,260,6")},
		},
		{
			name:     "empty payload",
			data:     []byte{0x03, 0x00},
			expected: &Message{Code: CodeStartAck, Payload: []byte{}},
		},
		{
			name:     "padded datagram",
			data:     []byte{0x00, 0x03, 'a', 'p', 'p', '?', '?', '?'},
			expected: &Message{Code: CodeRegister, Payload: []byte("app")},
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "expected at least 2 bytes",
		},
		{
			name:        "header only code",
			data:        []byte{0x02},
			expectError: true,
			errorMsg:    "expected at least 2 bytes",
		},
		{
			name:        "declared length exceeds buffer",
			data:        []byte{0x00, 0x05, 'a', 'b'},
			expectError: true,
			errorMsg:    "declared length 5 exceeds remaining 2 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Decode(tt.data)

			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedMessage))
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected.Code, result.Code)
			assert.Equal(t, tt.expected.Payload, result.Payload)
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(CodeRegister, []byte("MECWarningAlertApp"))
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0x00, 18}, []byte("MECWarningAlertApp")...), data)

	data, err = Encode(CodeStartAck, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00}, data)

	_, err = Encode(CodeStart, bytes.Repeat([]byte("x"), MaxPayloadSize+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codes := []uint8{CodeRegister, CodeDeregister, CodeAlert, CodeStartAck, CodeResendStart, CodePositionReport, 99, 255}

	for _, code := range codes {
		for length := 0; length <= MaxPayloadSize; length++ {
			payload := make([]byte, length)
			for i := range payload {
				payload[i] = byte(i*7 + int(code))
			}

			data, err := Encode(code, payload)
			require.NoError(t, err)

			msg, err := Decode(data)
			require.NoError(t, err)
			if msg.Code != code || !bytes.Equal(msg.Payload, payload) {
				t.Fatalf("round trip mismatch for code %d length %d: got %v", code, length, msg)
			}
		}
	}
}

func TestPeekCode(t *testing.T) {
	code, ok := PeekCode([]byte{0x02, 0x01})
	assert.True(t, ok)
	assert.Equal(t, CodeAlert, code)

	_, ok = PeekCode(nil)
	assert.False(t, ok)
}

func TestMessageBytes(t *testing.T) {
	msg := &Message{Code: CodeResendStart}
	data, err := msg.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x00}, data)
	assert.Equal(t, `Message{Code:4, Len:0, Payload:""}`, msg.String())
}
