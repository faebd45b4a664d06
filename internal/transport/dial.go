// internal/transport/dial.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

const (
	SchemeSerial = "serial"
	SchemeTCP    = "tcp"

	DefaultBaudRate = 115200

	// serialPollTimeout bounds each blocking read on the port so the
	// reader can notice Close.
	serialPollTimeout = 100 * time.Millisecond
)

// Dial opens a stream transport for a serial:// or tcp:// address.
//
//	serial:///dev/ttyACM0?baud=115200
//	tcp://192.168.1.20:65102
func Dial(ctx context.Context, address string, timeout time.Duration, log *zap.Logger) (*Stream, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("transport: parse address %q: %w", address, err)
	}

	switch u.Scheme {
	case SchemeSerial:
		port, err := openSerial(u)
		if err != nil {
			return nil, err
		}
		return NewStream(port, log), nil

	case SchemeTCP:
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", u.Host, err)
		}
		return NewStream(conn, log), nil

	default:
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
}

func openSerial(u *url.URL) (io.ReadWriteCloser, error) {
	device := u.Path
	if device == "" {
		device = u.Opaque
	}
	if device == "" {
		return nil, errors.New("transport: serial device required")
	}

	baud := DefaultBaudRate
	if v := u.Query().Get("baud"); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil || b <= 0 {
			return nil, fmt.Errorf("transport: invalid baud %q", v)
		}
		baud = b
	}

	p, err := serial.Open(&serial.Config{
		Address:  device,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  serialPollTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", device, err)
	}
	return &serialPort{port: p}, nil
}

// serialPort hides the port's poll timeout from the frame reader:
// reads block until data, Close, or a real error.
type serialPort struct {
	port   serial.Port
	closed atomic.Bool
}

func (p *serialPort) Read(b []byte) (int, error) {
	for {
		n, err := p.port.Read(b)
		if errors.Is(err, serial.ErrTimeout) {
			if p.closed.Load() {
				return 0, io.EOF
			}
			continue
		}
		if n == 0 && err == nil {
			// readable with nothing to read: the device went away
			return 0, io.ErrUnexpectedEOF
		}
		return n, err
	}
}

func (p *serialPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *serialPort) Close() error {
	p.closed.Store(true)
	return p.port.Close()
}
