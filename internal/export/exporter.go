// internal/export/exporter.go

// Package export publishes a status block per motor into Modbus holding
// registers on a remote endpoint (a PLC or a register server).
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/motor-fleet/internal/config"
	"github.com/tamzrod/motor-fleet/internal/fleet"
	"github.com/tamzrod/motor-fleet/internal/protocol"
	"github.com/tamzrod/motor-fleet/internal/session"
	"github.com/tamzrod/motor-fleet/internal/status"
)

// Interval is the fixed publish cadence. seconds_in_error advances once per tick.
const Interval = time.Second

// minStaleAfter bounds the stale threshold for fast-polling motors.
const minStaleAfter = time.Second

// Motor is the read side of a fleet motor the exporter needs.
type Motor interface {
	Name() string
	Snapshot() session.Snapshot
	RPM() (protocol.Telemetry, bool)
}

type target struct {
	motor   Motor
	tracker *status.Tracker
	writer  *statusWriter
	failing bool
}

// Exporter owns one tracker and one block writer per exported motor.
// Publish and Run are not safe for concurrent use with each other.
type Exporter struct {
	log     *zap.Logger
	cli     Client
	unitID  uint8
	targets []*target
}

// New wires every motor that has a status_slot. Motors without one are
// not exported.
func New(cfg *config.Config, fl *fleet.Manager, cli Client, log *zap.Logger) (*Exporter, error) {
	if cfg == nil || cfg.Export == nil {
		return nil, errors.New("export: not configured")
	}
	if cli == nil {
		return nil, errors.New("export: nil client")
	}
	if log == nil {
		log = zap.NewNop()
	}

	e := &Exporter{
		log:    log.Named("export"),
		cli:    cli,
		unitID: cfg.Export.UnitID,
	}

	for _, m := range cfg.Entries() {
		if m.StatusSlot == nil {
			continue
		}
		mot, err := fl.Motor(m.Name)
		if err != nil {
			return nil, fmt.Errorf("export: motor %q: %w", m.Name, err)
		}
		e.add(mot, *m.StatusSlot, staleAfter(m.PollInterval()))
	}

	if len(e.targets) == 0 {
		return nil, errors.New("export: no motor has a status_slot")
	}
	return e, nil
}

func (e *Exporter) add(m Motor, slot uint16, stale time.Duration) {
	e.targets = append(e.targets, &target{
		motor:   m,
		tracker: status.NewTracker(stale),
		writer:  newStatusWriter(e.cli, e.unitID, slot, m.Name()),
	})
}

func staleAfter(poll time.Duration) time.Duration {
	if d := 3 * poll; d > minStaleAfter {
		return d
	}
	return minStaleAfter
}

// Publish observes every motor and writes its block. It does not advance
// seconds_in_error. Errors from individual motors are joined.
func (e *Exporter) Publish(now time.Time) error {
	return e.publish(now, false)
}

func (e *Exporter) publish(now time.Time, tick bool) error {
	var errs []error

	for _, t := range e.targets {
		tel, ok := t.motor.RPM()
		t.tracker.Observe(t.motor.Snapshot(), tel, ok, now)
		if tick {
			t.tracker.Tick()
		}

		err := t.writer.WriteStatus(t.tracker.Snapshot())
		switch {
		case err != nil && !t.failing:
			e.log.Warn("status write failed", zap.String("motor", t.motor.Name()), zap.Error(err))
		case err == nil && t.failing:
			e.log.Info("status write recovered", zap.String("motor", t.motor.Name()))
		}
		t.failing = err != nil

		if err != nil {
			errs = append(errs, fmt.Errorf("motor %q: %w", t.motor.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// Run publishes immediately and then once per Interval until ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	e.log.Info("status export started", zap.Int("motors", len(e.targets)), zap.Uint8("unit_id", e.unitID))

	_ = e.publish(time.Now(), false)

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			_ = e.publish(now, true)
		}
	}
}
