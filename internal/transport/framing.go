// internal/transport/framing.go
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

// VESC UART framing:
//
//	short: 0x02 len(1)  payload crc(2) 0x03
//	long:  0x03 len(2)  payload crc(2) 0x03
//
// Lengths and checksum are big-endian. The checksum is carried, not
// checked; the codec owns validation.
const (
	startShort byte = 0x02
	startLong  byte = 0x03
	frameEnd   byte = 0x03

	// MaxShortPayload is the largest payload sent in a short frame.
	MaxShortPayload = 0xFF

	// DefaultMaxPayload bounds inbound long frames.
	DefaultMaxPayload = 4096
)

var (
	ErrPayloadEmpty    = errors.New("transport: empty payload")
	ErrPayloadTooLarge = errors.New("transport: payload too large")
)

// FrameWriter writes framed payloads to an underlying writer.
// Safe for concurrent use.
type FrameWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes f as one contiguous buffer.
func (fw *FrameWriter) WriteFrame(f protocol.Frame) error {
	n := len(f.Payload)
	if n == 0 {
		return ErrPayloadEmpty
	}
	if n > 0xFFFF {
		return fmt.Errorf("%w: %d", ErrPayloadTooLarge, n)
	}

	buf := make([]byte, 0, n+6)
	if n <= MaxShortPayload {
		buf = append(buf, startShort, byte(n))
	} else {
		buf = append(buf, startLong, byte(n>>8), byte(n))
	}
	buf = append(buf, f.Payload...)
	buf = append(buf, byte(f.Checksum>>8), byte(f.Checksum), frameEnd)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// FrameReader reads framed payloads. Bytes outside a frame are skipped.
// A frame with a bad terminator yields protocol.ErrMalformedFrame and the
// reader stays usable.
type FrameReader struct {
	r          *bufio.Reader
	maxPayload int

	// Skipped counts bytes discarded while hunting for a start byte.
	Skipped int
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), maxPayload: DefaultMaxPayload}
}

// ReadFrame blocks until one frame, a framing error, or an I/O error.
func (fr *FrameReader) ReadFrame() (protocol.Frame, error) {
	for {
		start, err := fr.r.ReadByte()
		if err != nil {
			return protocol.Frame{}, err
		}

		var n int
		switch start {
		case startShort:
			b, err := fr.r.ReadByte()
			if err != nil {
				return protocol.Frame{}, err
			}
			n = int(b)
		case startLong:
			var lb [2]byte
			if _, err := io.ReadFull(fr.r, lb[:]); err != nil {
				return protocol.Frame{}, err
			}
			n = int(binary.BigEndian.Uint16(lb[:]))
		default:
			fr.Skipped++
			continue
		}

		if n == 0 || n > fr.maxPayload {
			fr.Skipped++
			continue
		}

		buf := make([]byte, n+3)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return protocol.Frame{}, err
		}

		if buf[n+2] != frameEnd {
			return protocol.Frame{}, fmt.Errorf("transport: terminator 0x%02x: %w", buf[n+2], protocol.ErrMalformedFrame)
		}

		return protocol.Frame{
			Payload:  buf[:n:n],
			Checksum: binary.BigEndian.Uint16(buf[n:]),
		}, nil
	}
}
