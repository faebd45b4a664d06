// internal/status/errors.go
package status

import (
	"errors"

	"github.com/tamzrod/motor-fleet/internal/protocol"
	"github.com/tamzrod/motor-fleet/internal/session"
	"github.com/tamzrod/motor-fleet/internal/transport"
)

// Error codes for slot 1. Codes below 0x100 are passed through from the
// device (Modbus exception codes); ours start at 0x100.
const (
	ErrCodeNone    uint16 = 0
	ErrCodeGeneric uint16 = 1

	ErrCodeTimeout       uint16 = 0x0101
	ErrCodeChecksum      uint16 = 0x0102
	ErrCodeMalformed     uint16 = 0x0103
	ErrCodeUnknownFrame  uint16 = 0x0104
	ErrCodeClosed        uint16 = 0x0105
	ErrCodeConnect       uint16 = 0x0106
	ErrCodeCommandFailed uint16 = 0x0107
	ErrCodeOutOfRange    uint16 = 0x0108
	ErrCodeUnsupported   uint16 = 0x0109
	ErrCodePollFailed    uint16 = 0x010A
	ErrCodeNotConnected  uint16 = 0x010B

	// ErrCodeDeviceFault is OR-ed with the controller's own fault code.
	ErrCodeDeviceFault uint16 = 0x0200
)

// ErrorCode extracts a stable uint16 code from an error.
// Errors exposing a code of their own win; otherwise the most specific
// known cause is used. Unknown errors yield ErrCodeGeneric.
func ErrorCode(err error) uint16 {
	if err == nil {
		return ErrCodeNone
	}

	type coderA interface{ Code() uint16 }
	type coderB interface{ ErrorCode() uint16 }
	type coderC interface{ ModbusCode() uint16 }

	var a coderA
	if errors.As(err, &a) {
		return a.Code()
	}
	var b coderB
	if errors.As(err, &b) {
		return b.ErrorCode()
	}
	var c coderC
	if errors.As(err, &c) {
		return c.ModbusCode()
	}

	// most specific cause first
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, protocol.ErrChecksumMismatch):
		return ErrCodeChecksum
	case errors.Is(err, protocol.ErrMalformedFrame):
		return ErrCodeMalformed
	case errors.Is(err, protocol.ErrUnknownFrameType):
		return ErrCodeUnknownFrame
	case errors.Is(err, protocol.ErrOutOfRange):
		return ErrCodeOutOfRange
	case errors.Is(err, protocol.ErrUnsupportedCommand):
		return ErrCodeUnsupported
	case errors.Is(err, transport.ErrClosed):
		return ErrCodeClosed
	case errors.Is(err, session.ErrConnect):
		return ErrCodeConnect
	case errors.Is(err, session.ErrCommandFailed):
		return ErrCodeCommandFailed
	case errors.Is(err, session.ErrPollFailed):
		return ErrCodePollFailed
	case errors.Is(err, session.ErrNotConnected):
		return ErrCodeNotConnected
	}

	return ErrCodeGeneric
}
