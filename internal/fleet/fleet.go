// internal/fleet/fleet.go

// Package fleet builds one device session per configured motor, connects
// them concurrently and keeps a background runner alive for each.
// Motors behind one CAN gateway share a single transport.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/motor-fleet/internal/config"
	"github.com/tamzrod/motor-fleet/internal/session"
)

var (
	ErrNotFound = errors.New("fleet: motor not found")
	ErrShutdown = errors.New("fleet: shut down")
)

type Option func(*Manager)

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithDialer replaces the address-scheme dispatch.
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

type entry struct {
	sess  *session.Session
	motor *Motor

	resetMu sync.Mutex
	cancel  context.CancelFunc // stops the runner
	done    chan struct{}      // closed when the runner exits
}

// Manager owns every session of the fleet.
type Manager struct {
	log   *zap.Logger
	dial  DialFunc
	buses *busPool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.RWMutex
	motors map[string]*entry
	names  []string
	closed bool
}

// New validates and normalizes cfg, builds a session per motor, connects
// them concurrently and starts a runner for each one that connected.
// Motors that fail to connect are left Faulted and logged; they do not
// fail New. Runners outlive ctx; they stop on Shutdown.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Manager, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	config.Normalize(cfg)

	m := &Manager{
		log:    zap.NewNop(),
		motors: make(map[string]*entry, len(cfg.Motors)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dial == nil {
		m.dial = DialTransport(m.log.Named("transport"))
	}
	m.buses = newBusPool(m.dial, m.log.Named("bus"))
	m.runCtx, m.runCancel = context.WithCancel(context.Background())

	for _, mc := range cfg.Entries() {
		dial := m.dial
		if mc.ForwardCAN {
			dial = m.buses.Dial
		}
		sess, err := Build(mc, dial, m.log.Named("session"))
		if err != nil {
			m.runCancel()
			return nil, err
		}
		m.motors[mc.Name] = &entry{sess: sess, motor: &Motor{sess: sess}}
		m.names = append(m.names, mc.Name)
	}

	var g errgroup.Group
	for _, name := range m.names {
		e := m.motors[name]
		g.Go(func() error {
			if err := e.sess.Connect(ctx); err != nil {
				m.log.Error("motor connect failed",
					zap.String("motor", e.sess.Name()),
					zap.Error(err),
				)
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = m.Shutdown()
		return nil, fmt.Errorf("fleet: connect: %w", err)
	}

	for _, name := range m.names {
		e := m.motors[name]
		if e.sess.State() == session.StateConnected {
			m.startRunner(e)
		}
	}

	m.log.Info("fleet ready", zap.Int("motors", len(m.names)), zap.Int("connected", m.connected()))
	return m, nil
}

func (m *Manager) connected() int {
	n := 0
	for _, e := range m.motors {
		if e.sess.State() == session.StateConnected {
			n++
		}
	}
	return n
}

func (m *Manager) startRunner(e *entry) {
	ctx, cancel := context.WithCancel(m.runCtx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)

		err := e.sess.Run(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			m.log.Debug("runner stopped", zap.String("motor", e.sess.Name()))
		default:
			m.log.Error("runner stopped", zap.String("motor", e.sess.Name()), zap.Error(err))
		}
	}()
}

func (m *Manager) stopRunner(e *entry) {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil
}

func (m *Manager) lookup(name string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrShutdown
	}
	e, ok := m.motors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e, nil
}

// Motor returns the handle for name.
func (m *Manager) Motor(name string) (*Motor, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.motor, nil
}

// Names returns the configured motor names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...)
}

// Status returns a snapshot of every session, sorted by name.
func (m *Manager) Status() []session.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]session.Snapshot, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, m.motors[name].sess.Snapshot())
	}
	return out
}

// Reset clears a faulted or disconnected motor, reconnects it and
// restarts its runner.
func (m *Manager) Reset(ctx context.Context, name string) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}

	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	if err := e.sess.Reset(); err != nil {
		return err
	}
	m.stopRunner(e)

	if err := e.sess.Connect(ctx); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		_ = e.sess.Close()
		return ErrShutdown
	}
	m.startRunner(e)

	m.log.Info("motor reset", zap.String("motor", name))
	return nil
}

// Shutdown stops all runners, closes every session and then every
// shared bus. Safe to call more than once.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.runCancel()

	var errs []error
	for _, name := range m.names {
		e := m.motors[name]
		if err := e.sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	m.wg.Wait()

	if err := m.buses.Close(); err != nil {
		errs = append(errs, err)
	}

	m.log.Info("fleet shut down")
	return errors.Join(errs...)
}
