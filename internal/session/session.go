// internal/session/session.go

// Package session owns one controller: its transport, its state machine,
// retry policy, command ramp and the cached telemetry snapshot.
//
// All transport use is serialized by a single wire lock, so commands and
// polls from any number of goroutines reach the device one at a time in
// lock-acquisition order. Sessions behind one CAN gateway also hold the
// shared bus for each exchange. Latest never takes either lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tamzrod/motor-fleet/internal/protocol"
	"github.com/tamzrod/motor-fleet/internal/transport"
)

var (
	ErrConnect       = errors.New("session: connect failed")
	ErrNotConnected  = errors.New("session: not connected")
	ErrCommandFailed = errors.New("session: command failed")
	ErrPollFailed    = errors.New("session: poll failed")
	ErrFaulted       = errors.New("session: faulted")
	ErrBusy          = errors.New("session: connection active")

	// errStopped is returned by wait when the connection went away.
	errStopped = errors.New("session: stopped")
)

// Dialer opens the transport for one session.
type Dialer func(ctx context.Context) (transport.Transport, error)

// Config is the per-session policy.
type Config struct {
	Name         string
	ControllerID uint8
	Enabled      bool

	PollInterval time.Duration
	Timeout      time.Duration
	KeepAlive    time.Duration // 0 disables keepalive

	Retry                  RetryPolicy
	MaxConsecutiveFailures int

	MaxRPMAcceleration float64 // rpm/s, 0 = unlimited
	MinRPM             float64
	StartupRPM         *float64
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	Name                string
	Enabled             bool
	State               State
	ConnectionID        string
	LastError           error
	ConsecutiveFailures int
	LastCommandAt       time.Time
	LastTelemetryAt     time.Time
}

type Session struct {
	cfg   Config
	codec protocol.Codec
	dial  Dialer
	log   *zap.Logger

	wire sync.Mutex // held for every transport exchange

	mu            sync.Mutex
	state         State
	tr            transport.Transport
	stop          chan struct{} // closed when the connection ends
	connID        string
	lastErr       error
	failures      int
	lastCommandAt time.Time
	target        protocol.Command
	hasTarget     bool
	ramp          ramp

	latest atomic.Pointer[protocol.Telemetry]
}

func New(cfg Config, codec protocol.Codec, dial Dialer, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 1
	}
	return &Session{
		cfg:   cfg,
		codec: codec,
		dial:  dial,
		log:   log.With(zap.String("motor", cfg.Name)),
		ramp: ramp{
			maxAccel: cfg.MaxRPMAcceleration,
			minRPM:   cfg.MinRPM,
		},
	}
}

func (s *Session) Name() string { return s.cfg.Name }

func (s *Session) Config() Config { return s.cfg }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Latest returns the most recent telemetry. It never blocks on I/O.
func (s *Session) Latest() (protocol.Telemetry, bool) {
	t := s.latest.Load()
	if t == nil {
		return protocol.Telemetry{}, false
	}
	return *t, true
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Name:                s.cfg.Name,
		Enabled:             s.cfg.Enabled,
		State:               s.state,
		ConnectionID:        s.connID,
		LastError:           s.lastErr,
		ConsecutiveFailures: s.failures,
		LastCommandAt:       s.lastCommandAt,
	}
	if t := s.latest.Load(); t != nil {
		snap.LastTelemetryAt = t.At
	}
	return snap
}

// Connect dials the transport, retrying per the retry policy. Exhausting
// the attempts leaves the session Faulted.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s: connect already in progress", ErrConnect, s.cfg.Name)
	case StateFaulted:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrConnect, s.cfg.Name, ErrFaulted)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	tr, err := s.dialWithRetry(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateConnecting {
			// closed while dialing; Close already settled the state
			return fmt.Errorf("%w: %s: %w", ErrConnect, s.cfg.Name, err)
		}
		if ctx.Err() != nil {
			// caller gave up; nothing wrong with the device yet
			s.state = StateDisconnected
		} else {
			s.state = StateFaulted
			s.log.Error("connect failed, session faulted", zap.Error(err))
		}
		s.lastErr = err
		return fmt.Errorf("%w: %s: %w", ErrConnect, s.cfg.Name, err)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// closed while dialing
		s.mu.Unlock()
		_ = tr.Close()
		return fmt.Errorf("%w: %s: closed while connecting", ErrConnect, s.cfg.Name)
	}
	s.tr = tr
	s.stop = make(chan struct{})
	s.connID = uuid.NewString()
	s.state = StateConnected
	s.failures = 0
	s.lastErr = nil
	s.hasTarget = false
	s.ramp.reset(time.Now())
	connID := s.connID
	s.mu.Unlock()

	s.log.Info("connected", zap.String("connection_id", connID))

	if s.cfg.StartupRPM != nil && s.cfg.Enabled {
		if err := s.SetRPM(ctx, *s.cfg.StartupRPM); err != nil {
			return fmt.Errorf("session: %s: startup rpm: %w", s.cfg.Name, err)
		}
	}
	return nil
}

func (s *Session) dialWithRetry(ctx context.Context) (transport.Transport, error) {
	b := newBackoff(s.cfg.Retry)
	attempts := s.cfg.Retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, nil, b.Next()); err != nil {
				return nil, err
			}
		}

		tr, err := s.dial(ctx)
		if err == nil {
			return tr, nil
		}
		lastErr = err
		s.log.Warn("dial failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%d attempts: %w", attempts, lastErr)
}

// Close cancels in-flight work and closes the transport. A faulted
// session stays Faulted. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	tr := s.detachLocked()
	if s.state == StateConnected || s.state == StateConnecting {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	if tr == nil {
		return nil
	}
	s.log.Info("closed")
	return tr.Close()
}

// Reset returns a Faulted or Disconnected session to Disconnected with
// its counters cleared.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnected, StateConnecting:
		return fmt.Errorf("%w: %s: reset while %s", ErrBusy, s.cfg.Name, s.state)
	}
	s.state = StateDisconnected
	s.failures = 0
	s.lastErr = nil
	s.hasTarget = false
	return nil
}

// detachLocked ends the current connection and returns its transport
// for the caller to close outside the lock.
func (s *Session) detachLocked() transport.Transport {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	tr := s.tr
	s.tr = nil
	return tr
}

// fault moves to Faulted and drops the transport.
func (s *Session) fault(err error) {
	s.mu.Lock()
	if s.state == StateFaulted {
		s.mu.Unlock()
		return
	}
	s.state = StateFaulted
	s.lastErr = err
	tr := s.detachLocked()
	s.mu.Unlock()

	s.log.Error("session faulted", zap.Error(err))
	if tr != nil {
		_ = tr.Close()
	}
}

// conn returns the live transport and its stop channel.
func (s *Session) conn() (transport.Transport, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnected:
		return s.tr, s.stop, nil
	case StateFaulted:
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrNotConnected, s.cfg.Name, ErrFaulted)
	default:
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrNotConnected, s.cfg.Name, s.state)
	}
}
