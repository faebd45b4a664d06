// internal/transport/bus.go
package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

// routePoll bounds each read of the router so it notices Close.
const routePoll = 50 * time.Millisecond

// portDepth is the reply queue of one port.
const portDepth = 4

// RouteFunc names the controller a reply came from. Replies it cannot
// attribute go to the port currently holding the bus.
type RouteFunc func(f protocol.Frame) (controllerID uint8, ok bool)

// Shared is implemented by transports that share one wire with other
// controllers. A whole request/reply exchange runs between Acquire and
// Release.
type Shared interface {
	Acquire()
	Release()
}

// Hold acquires t's bus when t is shared and returns the release.
func Hold(t Transport) func() {
	sh, ok := t.(Shared)
	if !ok {
		return func() {}
	}
	sh.Acquire()
	return sh.Release
}

// Bus shares one transport between the controllers behind a CAN
// gateway. Each controller gets a port; the last port to close closes
// the transport.
type Bus struct {
	tr    Transport
	route RouteFunc
	log   *zap.Logger

	wire sync.Mutex // one exchange at a time

	mu      sync.Mutex
	ports   map[uint8]*busPort
	owner   *busPort
	retired bool

	dead     chan struct{}
	stopOnce sync.Once
	err      error
	closeErr error
}

// NewBus takes ownership of tr and starts routing its replies.
func NewBus(tr Transport, route RouteFunc, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		tr:    tr,
		route: route,
		log:   log,
		ports: make(map[uint8]*busPort),
		dead:  make(chan struct{}),
	}
	go b.routeLoop()
	return b
}

// Attach opens the port for controllerID. It fails with ErrClosed once
// the bus has stopped.
func (b *Bus) Attach(controllerID uint8) (Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.dead:
		return nil, ErrClosed
	default:
	}
	if b.retired {
		return nil, ErrClosed
	}
	if _, exists := b.ports[controllerID]; exists {
		return nil, fmt.Errorf("transport: controller %d already attached to bus", controllerID)
	}

	p := &busPort{
		bus:     b,
		id:      controllerID,
		inbound: make(chan readResult, portDepth),
		done:    make(chan struct{}),
	}
	b.ports[controllerID] = p
	return p, nil
}

// Ports reports how many ports are open.
func (b *Bus) Ports() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ports)
}

// Done is closed when the bus stops.
func (b *Bus) Done() <-chan struct{} { return b.dead }

// Close stops the bus and closes the shared transport. Open ports
// report ErrClosed from then on.
func (b *Bus) Close() error {
	b.stop(ErrClosed)
	return b.closeErr
}

func (b *Bus) stop(err error) {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		b.retired = true
		b.mu.Unlock()

		close(b.dead)
		b.closeErr = b.tr.Close()
	})
}

func (b *Bus) detach(p *busPort) {
	b.mu.Lock()
	if b.ports[p.id] == p {
		delete(b.ports, p.id)
	}
	if b.owner == p {
		b.owner = nil
	}
	last := len(b.ports) == 0
	if last {
		b.retired = true
	}
	b.mu.Unlock()

	if last {
		b.log.Debug("last port closed, closing bus")
		b.stop(ErrClosed)
	}
}

func (b *Bus) routeLoop() {
	for {
		f, err := b.tr.ReadFrame(routePoll)
		switch {
		case err == nil:
			b.dispatch(readResult{frame: f})
		case errors.Is(err, ErrTimeout):
		case protocol.IsDecodingError(err):
			b.dispatch(readResult{err: err})
		default:
			select {
			case <-b.dead:
			default:
				b.log.Warn("bus reader stopped", zap.Error(err))
			}
			b.stop(err)
			return
		}

		select {
		case <-b.dead:
			return
		default:
		}
	}
}

// dispatch hands a reply to the controller it names, else to the
// current owner of the wire. Unclaimed replies are dropped.
func (b *Bus) dispatch(r readResult) {
	b.mu.Lock()
	p := b.owner
	if r.err == nil && b.route != nil {
		if id, ok := b.route(r.frame); ok {
			p = b.ports[id]
		}
	}
	b.mu.Unlock()

	if p == nil {
		b.log.Debug("dropping unclaimed reply", zap.Int("payload_len", len(r.frame.Payload)))
		return
	}
	p.deliver(r)
}

func (b *Bus) deadErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if errors.Is(b.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("transport: bus stopped: %w", b.err)
}

// busPort is one controller's view of a Bus.
type busPort struct {
	bus *Bus
	id  uint8

	inbound chan readResult

	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ Transport = (*busPort)(nil)
	_ Shared    = (*busPort)(nil)
)

func (p *busPort) Acquire() {
	p.bus.wire.Lock()
	p.bus.mu.Lock()
	p.bus.owner = p
	p.bus.mu.Unlock()
}

func (p *busPort) Release() {
	p.bus.mu.Lock()
	if p.bus.owner == p {
		p.bus.owner = nil
	}
	p.bus.mu.Unlock()
	p.bus.wire.Unlock()
}

func (p *busPort) ConfirmsWrites() bool { return ConfirmsWrites(p.bus.tr) }

func (p *busPort) WriteFrame(f protocol.Frame) error {
	select {
	case <-p.done:
		return ErrClosed
	case <-p.bus.dead:
		return p.bus.deadErr()
	default:
	}
	return p.bus.tr.WriteFrame(f)
}

func (p *busPort) ReadFrame(timeout time.Duration) (protocol.Frame, error) {
	select {
	case r := <-p.inbound:
		return r.frame, r.err
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.inbound:
		return r.frame, r.err
	case <-p.done:
		return protocol.Frame{}, ErrClosed
	case <-p.bus.dead:
		return protocol.Frame{}, p.bus.deadErr()
	case <-timer.C:
		return protocol.Frame{}, ErrTimeout
	}
}

func (p *busPort) Flush() error {
	for {
		select {
		case <-p.inbound:
		default:
			return nil
		}
	}
}

// Close releases the port. The bus closes with its last port.
func (p *busPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.bus.detach(p)
	})
	return nil
}

func (p *busPort) deliver(r readResult) {
	for {
		select {
		case p.inbound <- r:
			return
		case <-p.done:
			return
		default:
		}
		select {
		case <-p.inbound:
		default:
		}
	}
}
