// internal/session/command.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/motor-fleet/internal/protocol"
	"github.com/tamzrod/motor-fleet/internal/transport"
)

// SetRPM sets the mechanical speed target. The value sent is ramped
// toward the target when an acceleration limit is configured.
func (s *Session) SetRPM(ctx context.Context, rpm float64) error {
	return s.drive(ctx, protocol.SetRPM(rpm))
}

// SetDuty sets the duty cycle, -1..1.
func (s *Session) SetDuty(ctx context.Context, duty float64) error {
	return s.drive(ctx, protocol.SetDuty(duty))
}

// SetCurrent sets the motor current in amps.
func (s *Session) SetCurrent(ctx context.Context, amps float64) error {
	return s.drive(ctx, protocol.SetCurrent(amps))
}

// SetCurrentBrake sets the braking current in amps.
func (s *Session) SetCurrentBrake(ctx context.Context, amps float64) error {
	return s.drive(ctx, protocol.SetCurrentBrake(amps))
}

func (s *Session) drive(ctx context.Context, cmd protocol.Command) error {
	if !s.cfg.Enabled {
		s.log.Debug("motor disabled, command dropped", zap.Stringer("command", cmd))
		return nil
	}

	// range-check the target itself; ramped values are always closer
	if _, err := s.codec.Encode(cmd, s.cfg.ControllerID); err != nil {
		return fmt.Errorf("session: %s: %w", s.cfg.Name, err)
	}

	s.wire.Lock()
	defer s.wire.Unlock()

	if _, _, err := s.conn(); err != nil {
		return err
	}

	s.mu.Lock()
	s.target = cmd
	s.hasTarget = true
	s.mu.Unlock()

	return s.sendTarget(ctx)
}

// sendTarget sends the current drive target, advancing the ramp.
// The wire lock must be held.
func (s *Session) sendTarget(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.target
	if cmd.Kind == protocol.CommandSetRPM {
		cmd.Value = s.ramp.step(cmd.Value, time.Now())
	}
	s.mu.Unlock()

	return s.exchange(ctx, cmd)
}

// resend repeats the drive target. With rampOnly it only does so while
// the ramp has not reached the target. The wire lock is taken here.
func (s *Session) resend(ctx context.Context, rampOnly bool) error {
	if !s.cfg.Enabled {
		return nil
	}

	s.wire.Lock()
	defer s.wire.Unlock()

	s.mu.Lock()
	ok := s.hasTarget && s.state == StateConnected
	if ok && rampOnly {
		ok = s.target.Kind == protocol.CommandSetRPM && !s.ramp.settled(s.target.Value)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.sendTarget(ctx)
}

// exchange writes cmd, retrying transient transport errors with backoff.
// The wire lock must be held.
func (s *Session) exchange(ctx context.Context, cmd protocol.Command) error {
	f, err := s.codec.Encode(cmd, s.cfg.ControllerID)
	if err != nil {
		return fmt.Errorf("session: %s: %w", s.cfg.Name, err)
	}

	tr, stop, err := s.conn()
	if err != nil {
		return err
	}

	b := newBackoff(s.cfg.Retry)
	attempts := s.cfg.Retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, stop, b.Next()); err != nil {
				if errors.Is(err, errStopped) {
					return fmt.Errorf("%w: %s", ErrNotConnected, s.cfg.Name)
				}
				return fmt.Errorf("session: %s: %s: %w", s.cfg.Name, cmd, err)
			}
		}

		retry, err := s.writeCommand(tr, f)
		if err == nil {
			s.mu.Lock()
			s.lastCommandAt = time.Now()
			s.mu.Unlock()
			return nil
		}
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("%w: %s: %w", ErrNotConnected, s.cfg.Name, err)
		}
		if !retry {
			return fmt.Errorf("%w: %s: %s: %w", ErrCommandFailed, s.cfg.Name, cmd, err)
		}

		lastErr = err
		s.log.Warn("command attempt failed",
			zap.Stringer("command", cmd),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
	}

	err = fmt.Errorf("%w: %s: %s after %d attempts: %w", ErrCommandFailed, s.cfg.Name, cmd, attempts, lastErr)
	s.fault(err)
	return err
}

// writeCommand performs one attempt, holding a shared bus for its
// duration. retry reports whether the failure came from the transport;
// replies the device rejected are final.
func (s *Session) writeCommand(tr transport.Transport, f protocol.Frame) (retry bool, err error) {
	defer transport.Hold(tr)()

	if err := tr.WriteFrame(f); err != nil {
		return transport.IsTransient(err), err
	}
	if !transport.ConfirmsWrites(tr) {
		return false, nil
	}

	reply, err := tr.ReadFrame(s.cfg.Timeout)
	if err != nil {
		return transport.IsTransient(err), err
	}
	msg, err := s.codec.Decode(reply)
	if err != nil {
		return false, err
	}
	if _, ok := msg.(protocol.Ack); !ok {
		return false, fmt.Errorf("unexpected %T in reply to command: %w", msg, protocol.ErrMalformedFrame)
	}
	return false, nil
}

// Poll requests telemetry and waits up to the configured timeout for
// the reply. Failures count toward the consecutive failure limit.
func (s *Session) Poll(ctx context.Context) (protocol.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Telemetry{}, err
	}

	s.wire.Lock()
	defer s.wire.Unlock()

	tr, _, err := s.conn()
	if err != nil {
		return protocol.Telemetry{}, err
	}

	t, err := s.pollOnce(tr)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return protocol.Telemetry{}, fmt.Errorf("%w: %s: %w", ErrNotConnected, s.cfg.Name, err)
		}
		s.pollFailed(err)
		return protocol.Telemetry{}, fmt.Errorf("%w: %s: %w", ErrPollFailed, s.cfg.Name, err)
	}

	t.At = time.Now()
	s.latest.Store(&t)

	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
	return t, nil
}

func (s *Session) pollOnce(tr transport.Transport) (protocol.Telemetry, error) {
	f, err := s.codec.Encode(protocol.RequestTelemetry(), s.cfg.ControllerID)
	if err != nil {
		return protocol.Telemetry{}, err
	}

	defer transport.Hold(tr)()

	// a late reply to an earlier poll must not be taken for this one
	if err := tr.Flush(); err != nil {
		return protocol.Telemetry{}, err
	}
	if err := tr.WriteFrame(f); err != nil {
		return protocol.Telemetry{}, err
	}
	reply, err := tr.ReadFrame(s.cfg.Timeout)
	if err != nil {
		return protocol.Telemetry{}, err
	}

	msg, err := s.codec.Decode(reply)
	if err != nil {
		return protocol.Telemetry{}, err
	}
	t, ok := msg.(protocol.Telemetry)
	if !ok {
		return protocol.Telemetry{}, fmt.Errorf("unexpected %T in reply to poll: %w", msg, protocol.ErrMalformedFrame)
	}
	return t, nil
}

func (s *Session) pollFailed(err error) {
	s.mu.Lock()
	s.failures++
	n := s.failures
	s.lastErr = err
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int("consecutive_failures", n),
		zap.Int("max_consecutive_failures", s.cfg.MaxConsecutiveFailures),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, transport.ErrTimeout):
		s.log.Warn("poll timeout", fields...)
	case errors.Is(err, protocol.ErrChecksumMismatch):
		s.log.Warn("poll reply checksum mismatch", fields...)
	case protocol.IsDecodingError(err):
		s.log.Warn("poll reply malformed", fields...)
	default:
		s.log.Warn("poll failed", fields...)
	}

	if n >= s.cfg.MaxConsecutiveFailures {
		s.fault(fmt.Errorf("%w: %d consecutive failures: %w", ErrPollFailed, n, err))
	}
}
