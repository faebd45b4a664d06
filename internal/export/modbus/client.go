// internal/export/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// EndpointClient is a single TCP connection to the status endpoint.
// It serializes requests because it mutates SlaveId per write.
//
// The connection is dropped after any failed write and dialed again by
// the next one, so an endpoint that restarts or is down at startup is
// picked up on a later export tick.
type EndpointClient struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
	log     *zap.Logger

	endpoint  string
	connected bool
	drops     int
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// NewEndpointClient tries to connect once. A refused connection is
// logged, not returned; writes keep trying.
func NewEndpointClient(cfg Config, log *zap.Logger) (*EndpointClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("export modbus: endpoint required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout

	c := &EndpointClient{
		handler:  h,
		client:   modbus.NewClient(h),
		log:      log.With(zap.String("endpoint", cfg.Endpoint)),
		endpoint: cfg.Endpoint,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		c.log.Warn("export endpoint unreachable, will retry on next write", zap.Error(err))
	}
	return c, nil
}

func (c *EndpointClient) connectLocked() error {
	if c.connected {
		return nil
	}
	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("export modbus: connect %s: %w", c.endpoint, err)
	}
	c.connected = true
	return nil
}

// dropLocked forgets the connection after a failed write.
func (c *EndpointClient) dropLocked(cause error) {
	if !c.connected {
		return
	}
	c.connected = false
	c.drops++
	_ = c.handler.Close()
	c.log.Warn("export endpoint connection dropped", zap.Error(cause))
}

// Connected reports whether the last write (or the initial connect)
// left a live connection.
func (c *EndpointClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Drops counts connections lost to failed writes.
func (c *EndpointClient) Drops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}

func (c *EndpointClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return c.handler.Close()
}

// WriteRegisters writes holding registers with FC16, dialing first when
// the previous write dropped the connection.
func (c *EndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasDown := !c.connected
	if err := c.connectLocked(); err != nil {
		return err
	}
	if wasDown {
		c.log.Info("export endpoint connected")
	}

	c.handler.SlaveId = unitID

	_, err := c.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
	if err != nil {
		c.dropLocked(err)
		return err
	}
	return nil
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
