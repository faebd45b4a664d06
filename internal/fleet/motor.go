// internal/fleet/motor.go
package fleet

import (
	"context"

	"github.com/tamzrod/motor-fleet/internal/protocol"
	"github.com/tamzrod/motor-fleet/internal/session"
)

// Motor is the user-facing handle for one named motor. It holds no state
// of its own; every call goes to the session.
type Motor struct {
	sess *session.Session
}

func (m *Motor) Name() string { return m.sess.Name() }

// SetRPM sets the mechanical speed target.
func (m *Motor) SetRPM(ctx context.Context, rpm float64) error {
	return m.sess.SetRPM(ctx, rpm)
}

// RPM returns the last polled telemetry without touching the wire.
// ok is false until the first successful poll.
func (m *Motor) RPM() (t protocol.Telemetry, ok bool) {
	return m.sess.Latest()
}

func (m *Motor) SetDuty(ctx context.Context, duty float64) error {
	return m.sess.SetDuty(ctx, duty)
}

func (m *Motor) SetCurrent(ctx context.Context, amps float64) error {
	return m.sess.SetCurrent(ctx, amps)
}

// Brake applies a braking current.
func (m *Motor) Brake(ctx context.Context, amps float64) error {
	return m.sess.SetCurrentBrake(ctx, amps)
}

// Poll forces an immediate telemetry read.
func (m *Motor) Poll(ctx context.Context) (protocol.Telemetry, error) {
	return m.sess.Poll(ctx)
}

func (m *Motor) State() session.State { return m.sess.State() }

func (m *Motor) Snapshot() session.Snapshot { return m.sess.Snapshot() }
