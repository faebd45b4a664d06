// internal/fleet/bus.go
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tamzrod/motor-fleet/internal/config"
	"github.com/tamzrod/motor-fleet/internal/protocol/vesc"
	"github.com/tamzrod/motor-fleet/internal/transport"
)

// busPool owns one shared transport per CAN gateway address. Motors
// with forward_can get a port on it; the transport is dialed by the
// first of them and closed with the last port.
type busPool struct {
	dial DialFunc
	log  *zap.Logger

	mu    sync.Mutex
	buses map[string]*transport.Bus // key = config.AddressKey
}

func newBusPool(dial DialFunc, log *zap.Logger) *busPool {
	return &busPool{
		dial:  dial,
		log:   log,
		buses: make(map[string]*transport.Bus),
	}
}

// Dial attaches m to the bus at its address, dialing the bus if none
// is live. It is a DialFunc.
func (p *busPool) Dial(ctx context.Context, m config.MotorConfig) (transport.Transport, error) {
	key := config.AddressKey(m.Address)

	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.buses[key]; ok {
		port, err := b.Attach(m.ControllerID)
		if !errors.Is(err, transport.ErrClosed) {
			return port, err
		}
		delete(p.buses, key)
	}

	tr, err := p.dial(ctx, m)
	if err != nil {
		return nil, err
	}
	b := transport.NewBus(tr, vesc.ForwardedID, p.log.With(zap.String("bus", key)))
	p.buses[key] = b

	p.log.Info("bus opened", zap.String("bus", key), zap.String("motor", m.Name))
	return b.Attach(m.ControllerID)
}

// Open reports the addresses with a live bus, sorted.
func (p *busPool) Open() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for key, b := range p.buses {
		select {
		case <-b.Done():
		default:
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Close closes every bus regardless of open ports.
func (p *busPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, b := range p.buses {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus %s: %w", key, err))
		}
		delete(p.buses, key)
	}
	return errors.Join(errs...)
}
