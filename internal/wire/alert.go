package wire

import (
	"fmt"
)

// AlertLayout selects the byte order of an alert datagram. The two alert
// producers disagree on where the entered flag sits relative to the length
// byte, so both shapes are kept as explicit variants.
type AlertLayout int

const (
	// LayoutFlagAfterLength is [2][len(coords)][flag][coords], sent by the
	// subscription-backed MEC app. The length byte leaves out the flag, so
	// Decode on such a frame returns the flag plus all but the last
	// coordinate byte. Read alerts with DecodeAlert.
	LayoutFlagAfterLength AlertLayout = iota

	// LayoutFlagBeforeLength is [2][flag][len(coords)][coords], used by the
	// direct peer alert flow.
	LayoutFlagBeforeLength
)

// alertHeaderSize is code, length and flag bytes.
const alertHeaderSize = 3

// Alert is an enter/leave notification for the UE.
type Alert struct {
	Entered  bool
	Position Point
}

// String returns a human-readable representation of the alert
func (a Alert) String() string {
	return fmt.Sprintf("Alert{Entered:%t, Position:%s}", a.Entered, a.Position)
}

// ParseAlertLayout maps a configuration name to a layout.
func ParseAlertLayout(name string) (AlertLayout, error) {
	switch name {
	case "flag-after-length":
		return LayoutFlagAfterLength, nil
	case "flag-before-length":
		return LayoutFlagBeforeLength, nil
	default:
		return 0, fmt.Errorf("unknown alert layout %q (want flag-after-length or flag-before-length)", name)
	}
}

// String returns the configuration name of the layout.
func (l AlertLayout) String() string {
	switch l {
	case LayoutFlagAfterLength:
		return "flag-after-length"
	case LayoutFlagBeforeLength:
		return "flag-before-length"
	default:
		return fmt.Sprintf("AlertLayout(%d)", int(l))
	}
}

// EncodeAlert builds a code 2 datagram in the given layout.
func EncodeAlert(layout AlertLayout, alert Alert) ([]byte, error) {
	coords := alert.Position.String()
	if len(coords) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: coordinates take %d bytes", ErrPayloadTooLarge, len(coords))
	}

	var flag uint8
	if alert.Entered {
		flag = 1
	}

	buf := make([]byte, alertHeaderSize+len(coords))
	buf[0] = CodeAlert
	switch layout {
	case LayoutFlagAfterLength:
		buf[1] = uint8(len(coords))
		buf[2] = flag
	case LayoutFlagBeforeLength:
		buf[1] = flag
		buf[2] = uint8(len(coords))
	default:
		return nil, fmt.Errorf("unknown alert layout %d", int(layout))
	}
	copy(buf[alertHeaderSize:], coords)

	return buf, nil
}

// DecodeAlert parses a code 2 datagram in the given layout.
func DecodeAlert(layout AlertLayout, data []byte) (Alert, error) {
	if len(data) < alertHeaderSize {
		return Alert{}, fmt.Errorf("%w: alert needs at least %d bytes, got %d", ErrMalformedMessage, alertHeaderSize, len(data))
	}
	if data[0] != CodeAlert {
		return Alert{}, fmt.Errorf("%w: code %d is not an alert", ErrMalformedMessage, data[0])
	}

	var flag, length uint8
	switch layout {
	case LayoutFlagAfterLength:
		length, flag = data[1], data[2]
	case LayoutFlagBeforeLength:
		flag, length = data[1], data[2]
	default:
		return Alert{}, fmt.Errorf("unknown alert layout %d", int(layout))
	}

	if int(length) > len(data)-alertHeaderSize {
		return Alert{}, fmt.Errorf("%w: alert declares %d coordinate bytes, %d remain",
			ErrMalformedMessage, length, len(data)-alertHeaderSize)
	}

	pos, err := ParsePoint(data[alertHeaderSize : alertHeaderSize+int(length)])
	if err != nil {
		return Alert{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return Alert{Entered: flag != 0, Position: pos}, nil
}
