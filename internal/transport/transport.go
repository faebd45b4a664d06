// internal/transport/transport.go

// Package transport owns the physical channel to one controller and moves
// protocol frames across it. Transports report errors; they never retry.
package transport

import (
	"errors"
	"time"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

var (
	ErrTimeout = errors.New("transport: timeout")
	ErrClosed  = errors.New("transport: closed")
)

// Transport moves frames over one exclusively-owned channel.
// WriteFrame and ReadFrame may be called from different goroutines;
// Close unblocks a pending ReadFrame.
type Transport interface {
	WriteFrame(f protocol.Frame) error
	ReadFrame(timeout time.Duration) (protocol.Frame, error)

	// Flush discards inbound frames that nobody waited for.
	Flush() error

	Close() error
}

// Confirming is implemented by request/response transports (Modbus)
// where every write produces a reply frame that must be consumed.
type Confirming interface {
	ConfirmsWrites() bool
}

// ConfirmsWrites reports whether t replies to every write.
func ConfirmsWrites(t Transport) bool {
	c, ok := t.(Confirming)
	return ok && c.ConfirmsWrites()
}

// IsTransient reports whether err is an I/O condition worth retrying.
// Closed transports and protocol errors are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrClosed) {
		return false
	}
	if protocol.IsEncodingError(err) || protocol.IsDecodingError(err) {
		return false
	}
	return true
}
