// internal/session/run.go
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Run polls every PollInterval and re-sends the drive target every
// KeepAlive until ctx is cancelled, the session is closed, or it faults.
// Between keepalives an unfinished RPM ramp is advanced on each poll tick.
//
// Run returns nil after Close, ctx.Err() on cancellation and the fault
// cause when the session faults.
func (s *Session) Run(ctx context.Context) error {
	_, stop, err := s.conn()
	if err != nil {
		return err
	}

	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	poll := time.NewTicker(interval)
	defer poll.Stop()

	var keepAlive <-chan time.Time
	if s.cfg.KeepAlive > 0 {
		t := time.NewTicker(s.cfg.KeepAlive)
		defer t.Stop()
		keepAlive = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-stop:
			return s.exitErr()

		case <-poll.C:
			if _, err := s.Poll(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
				s.log.Debug("poll", zap.Error(err))
			}
			if keepAlive == nil {
				if err := s.resend(ctx, true); err != nil {
					s.log.Debug("ramp", zap.Error(err))
				}
			}

		case <-keepAlive:
			if err := s.resend(ctx, false); err != nil {
				s.log.Debug("keepalive", zap.Error(err))
			}
		}
	}
}

func (s *Session) exitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFaulted {
		return s.lastErr
	}
	return nil
}
