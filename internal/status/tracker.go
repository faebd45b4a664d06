// internal/status/tracker.go
package status

import (
	"math"
	"time"

	"github.com/tamzrod/motor-fleet/internal/protocol"
	"github.com/tamzrod/motor-fleet/internal/session"
)

// Tracker derives the exported Snapshot of one motor from its session.
// It is owned by a single runner and is not safe for concurrent use.
type Tracker struct {
	staleAfter time.Duration
	snap       Snapshot
}

// NewTracker starts in HealthUnknown. Telemetry older than staleAfter
// marks a connected motor Stale.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		staleAfter: staleAfter,
		snap:       Snapshot{Health: HealthUnknown},
	}
}

func (t *Tracker) Snapshot() Snapshot { return t.snap }

// Observe folds the current session state into the snapshot and reports
// whether anything changed. seconds_in_error is reset on recovery but
// only ever incremented by Tick.
func (t *Tracker) Observe(s session.Snapshot, tel protocol.Telemetry, ok bool, now time.Time) bool {
	prev := t.snap

	health, code := classify(s, tel, ok, now, t.staleAfter)
	t.snap.Health = health
	t.snap.LastErrorCode = code
	if health == HealthOK {
		t.snap.SecondsInError = 0
	}

	if ok {
		t.snap.RPM = clampInt32(tel.RPM)
		t.snap.VoltageX10 = uint16(clamp(math.Round(tel.Voltage*10), 0, math.MaxUint16))
		t.snap.CurrentX10 = int16(clamp(math.Round(tel.Current*10), math.MinInt16, math.MaxInt16))
	}

	return t.snap != prev
}

// Tick advances seconds_in_error once while in Error or Stale. It is
// driven by a 1 Hz ticker and saturates at MaxSecondsInError.
func (t *Tracker) Tick() bool {
	switch t.snap.Health {
	case HealthError, HealthStale:
	default:
		return false
	}
	if t.snap.SecondsInError >= MaxSecondsInError {
		return false
	}
	t.snap.SecondsInError++
	return true
}

func classify(s session.Snapshot, tel protocol.Telemetry, ok bool, now time.Time, staleAfter time.Duration) (health, code uint16) {
	switch {
	case !s.Enabled:
		return HealthDisabled, ErrCodeNone
	case s.State == session.StateFaulted:
		return HealthError, ErrorCode(s.LastError)
	case s.State != session.StateConnected:
		return HealthUnknown, ErrCodeNone
	case s.ConsecutiveFailures > 0:
		return HealthError, ErrorCode(s.LastError)
	case !ok:
		return HealthUnknown, ErrCodeNone
	case tel.Fault != 0:
		return HealthError, ErrCodeDeviceFault | uint16(tel.Fault)
	case staleAfter > 0 && now.Sub(tel.At) > staleAfter:
		return HealthStale, ErrCodeNone
	default:
		return HealthOK, ErrCodeNone
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt32(v float64) int32 {
	return int32(clamp(math.Round(v), math.MinInt32, math.MaxInt32))
}
