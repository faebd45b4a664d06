// internal/transport/modbus/transport.go

// Package modbus is a request/response Transport over goburrow/modbus
// client handlers (RTU or TCP).
package modbus

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/tamzrod/motor-fleet/internal/protocol"
	pmodbus "github.com/tamzrod/motor-fleet/internal/protocol/modbus"
	"github.com/tamzrod/motor-fleet/internal/transport"
)

const (
	SchemeRTU = "rtu"
	SchemeTCP = "modbus-tcp"
)

// Handler is what the transport needs from a goburrow client handler.
// *modbus.RTUClientHandler and *modbus.TCPClientHandler satisfy it.
type Handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Config is minimal transport config.
type Config struct {
	// Address is rtu:///dev/ttyUSB0?baud=19200&parity=E or
	// modbus-tcp://host:502.
	Address string
	SlaveID uint8
	Timeout time.Duration
}

// Transport performs one Modbus round trip per WriteFrame and holds the
// reply until ReadFrame collects it.
type Transport struct {
	mu      sync.Mutex // serializes round trips; handlers are not reentrant
	h       Handler
	hClosed bool // guarded by mu
	log     *zap.Logger

	reply     chan protocol.Frame
	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ transport.Transport  = (*Transport)(nil)
	_ transport.Confirming = (*Transport)(nil)
)

// Open builds a handler for cfg.Address and connects it.
func Open(cfg Config, log *zap.Logger) (*Transport, error) {
	h, err := newHandler(cfg)
	if err != nil {
		return nil, err
	}
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus transport: connect %s: %w", cfg.Address, err)
	}
	return NewWithHandler(h, log), nil
}

// NewWithHandler wraps an already connected handler.
func NewWithHandler(h Handler, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		h:     h,
		log:   log,
		reply: make(chan protocol.Frame, 1),
		done:  make(chan struct{}),
	}
}

func newHandler(cfg Config) (Handler, error) {
	if cfg.Address == "" {
		return nil, errors.New("modbus transport: address required")
	}
	u, err := url.Parse(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("modbus transport: parse address %q: %w", cfg.Address, err)
	}

	switch u.Scheme {
	case SchemeRTU:
		device := u.Path
		if device == "" {
			device = u.Opaque
		}
		if device == "" {
			return nil, errors.New("modbus transport: serial device required")
		}

		h := modbus.NewRTUClientHandler(device)
		h.SlaveId = cfg.SlaveID
		if cfg.Timeout > 0 {
			h.Timeout = cfg.Timeout
		}

		q := u.Query()
		if v := q.Get("baud"); v != "" {
			b, err := strconv.Atoi(v)
			if err != nil || b <= 0 {
				return nil, fmt.Errorf("modbus transport: invalid baud %q", v)
			}
			h.BaudRate = b
		}
		if v := q.Get("parity"); v != "" {
			switch v {
			case "N", "E", "O":
				h.Parity = v
			default:
				return nil, fmt.Errorf("modbus transport: invalid parity %q", v)
			}
		}
		return h, nil

	case SchemeTCP:
		if u.Host == "" {
			return nil, errors.New("modbus transport: host required")
		}
		h := modbus.NewTCPClientHandler(u.Host)
		h.SlaveId = cfg.SlaveID
		if cfg.Timeout > 0 {
			h.Timeout = cfg.Timeout
		}
		return h, nil

	default:
		return nil, fmt.Errorf("modbus transport: unsupported scheme %q", u.Scheme)
	}
}

// ConfirmsWrites is always true: every request has a reply.
func (t *Transport) ConfirmsWrites() bool { return true }

// WriteFrame sends the PDU in f and stores the reply PDU, sealed with
// the codec checksum, for the next ReadFrame.
func (t *Transport) WriteFrame(f protocol.Frame) error {
	if len(f.Payload) == 0 {
		return errors.New("modbus transport: empty pdu")
	}

	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.releaseLocked()

	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}

	req, err := t.h.Encode(&modbus.ProtocolDataUnit{
		FunctionCode: f.Payload[0],
		Data:         f.Payload[1:],
	})
	if err != nil {
		return fmt.Errorf("modbus transport: encode: %w", err)
	}

	resp, err := t.h.Send(req)
	if err != nil {
		select {
		case <-t.done:
			return transport.ErrClosed
		default:
		}
		return fmt.Errorf("modbus transport: send: %w", err)
	}

	if err := t.h.Verify(req, resp); err != nil {
		return fmt.Errorf("modbus transport: %v: %w", err, protocol.ErrMalformedFrame)
	}
	pdu, err := t.h.Decode(resp)
	if err != nil {
		return fmt.Errorf("modbus transport: %v: %w", err, protocol.ErrMalformedFrame)
	}

	payload := make([]byte, 0, 1+len(pdu.Data))
	payload = append(payload, pdu.FunctionCode)
	payload = append(payload, pdu.Data...)

	// single slot: an uncollected reply is superseded
	select {
	case old := <-t.reply:
		t.log.Debug("dropping uncollected reply", zap.Uint8("function", old.Payload[0]))
	default:
	}
	t.reply <- protocol.Frame{Payload: payload, Checksum: pmodbus.Checksum(payload)}
	return nil
}

func (t *Transport) ReadFrame(timeout time.Duration) (protocol.Frame, error) {
	select {
	case f := <-t.reply:
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-t.reply:
		return f, nil
	case <-t.done:
		return protocol.Frame{}, transport.ErrClosed
	case <-timer.C:
		return protocol.Frame{}, transport.ErrTimeout
	}
}

func (t *Transport) Flush() error {
	select {
	case <-t.reply:
	default:
	}
	return nil
}

// Close does not wait for a round trip in flight; that round trip
// closes the handler when it returns.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if !t.mu.TryLock() {
			return
		}
		defer t.mu.Unlock()
		t.hClosed = true
		err = t.h.Close()
	})
	return err
}

// releaseLocked closes the handler once Close has been called.
func (t *Transport) releaseLocked() {
	if t.hClosed {
		return
	}
	select {
	case <-t.done:
	default:
		return
	}
	t.hClosed = true
	if err := t.h.Close(); err != nil {
		t.log.Warn("modbus transport: close after round trip", zap.Error(err))
	}
}
