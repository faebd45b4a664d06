// internal/session/ramp.go
package session

import (
	"math"
	"time"
)

// ramp limits how fast the RPM demand may change and keeps non-zero
// demands out of the band below minRPM, where sensorless motors stall.
type ramp struct {
	maxAccel float64 // rpm/s, 0 = unlimited
	minRPM   float64

	last float64
	at   time.Time
}

func (r *ramp) reset(now time.Time) {
	r.last = 0
	r.at = now
}

// step returns the demand to send now for target and remembers it.
func (r *ramp) step(target float64, now time.Time) float64 {
	rpm := target
	if r.maxAccel > 0 {
		dt := now.Sub(r.at).Seconds()
		if dt < 0 {
			dt = 0
		}
		limit := r.maxAccel * dt
		switch delta := target - r.last; {
		case delta > limit:
			rpm = r.last + limit
		case delta < -limit:
			rpm = r.last - limit
		}
	}
	rpm = r.floor(rpm, target)

	r.last = rpm
	r.at = now
	return rpm
}

// floor lifts a demand inside (0, minRPM) to minRPM. Heading through
// zero toward the other direction, or toward zero, it drops to 0 instead.
func (r *ramp) floor(rpm, target float64) float64 {
	if rpm == 0 || math.Abs(rpm) >= r.minRPM {
		return rpm
	}
	if target == 0 || math.Signbit(rpm) != math.Signbit(target) {
		return 0
	}
	return math.Copysign(r.minRPM, rpm)
}

// settled reports whether the last demand has reached target.
func (r *ramp) settled(target float64) bool {
	return r.last == r.floor(target, target)
}
