// internal/export/status_writer.go
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/motor-fleet/internal/status"
)

// Client is the exact contract the exporter uses against the endpoint.
type Client interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// statusWriter delivers one motor's status block.
// It receives a snapshot and writes it verbatim.
type statusWriter struct {
	cli    Client
	unitID uint8
	slot   uint16
	name   string

	needFull bool
	last     []uint16
}

func newStatusWriter(cli Client, unitID uint8, slot uint16, name string) *statusWriter {
	return &statusWriter{
		cli:      cli,
		unitID:   unitID,
		slot:     slot,
		name:     name,
		needFull: true, // full re-assert on first write
	}
}

// WriteStatus delivers a snapshot into status memory.
// On any write failure, the next call re-asserts the full block.
func (sw *statusWriter) WriteStatus(s status.Snapshot) error {
	if sw.cli == nil {
		return errors.New("status writer: missing client")
	}

	// HARD INVARIANT: seconds_in_error MUST NOT wrap
	if s.SecondsInError > status.MaxSecondsInError {
		s.SecondsInError = status.MaxSecondsInError
	}

	regs := status.Encode(s, sw.name)
	base := sw.baseAddr()

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if sw.needFull {
		if err := sw.cli.WriteRegisters(sw.unitID, base, regs); err != nil {
			sw.needFull = true
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}

		sw.needFull = false
		sw.last = regs
		return nil
	}

	// ------------------------------------------------------------
	// Incremental: one write per run of changed live slots.
	// The name never changes after the full assert.
	// ------------------------------------------------------------
	var errs []string

	for _, r := range changedRuns(sw.last[:status.SlotReservedStart], regs[:status.SlotReservedStart]) {
		if err := sw.cli.WriteRegisters(sw.unitID, base+uint16(r.start), regs[r.start:r.end]); err != nil {
			errs = append(errs, fmt.Sprintf("slots %d-%d write failed: %v", r.start, r.end-1, err))
			continue
		}
		copy(sw.last[r.start:r.end], regs[r.start:r.end])
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt; re-assert on next write.
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}

	return nil
}

func (sw *statusWriter) baseAddr() uint16 {
	// Each motor owns a fixed SlotsPerDevice block.
	return sw.slot * status.SlotsPerDevice
}

type run struct{ start, end int }

// changedRuns returns the half-open index ranges where cur differs from prev.
func changedRuns(prev, cur []uint16) []run {
	var out []run
	for i := 0; i < len(cur); i++ {
		if prev[i] == cur[i] {
			continue
		}
		j := i + 1
		for j < len(cur) && prev[j] != cur[j] {
			j++
		}
		out = append(out, run{start: i, end: j})
		i = j
	}
	return out
}
