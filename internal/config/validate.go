// internal/config/validate.go
package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	ProtocolVESC   = "vesc"
	ProtocolModbus = "modbus"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
// Zero values that Normalize later replaces with defaults are accepted.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if len(cfg.Motors) == 0 {
		return fmt.Errorf("config: at least one motor required")
	}

	// deterministic error order
	names := make([]string, 0, len(cfg.Motors))
	for name := range cfg.Motors {
		names = append(names, name)
	}
	sort.Strings(names)

	// ------------------------------------------------------------
	// PER-MOTOR VALIDATION
	// ------------------------------------------------------------

	for _, name := range names {
		m := cfg.Motors[name]

		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("motor name must not be empty")
		}
		// names end up in the exported status block (ASCII only)
		for i := 0; i < len(name); i++ {
			if name[i] > 0x7F {
				return fmt.Errorf("motor %q: name must contain ASCII characters only", name)
			}
		}

		if m.Address == "" {
			return fmt.Errorf("motor %q: address required", name)
		}

		switch m.Protocol {
		case "", ProtocolVESC:
		case ProtocolModbus:
			if m.ForwardCAN {
				return fmt.Errorf("motor %q: forward_can is only valid for protocol %q", name, ProtocolVESC)
			}
		default:
			return fmt.Errorf("motor %q: unknown protocol %q", name, m.Protocol)
		}

		if !(m.MaxRPM > 0) || math.IsInf(m.MaxRPM, 0) {
			return fmt.Errorf("motor %q: max_rpm must be > 0", name)
		}
		if m.MinRPM < 0 || m.MinRPM > m.MaxRPM {
			return fmt.Errorf("motor %q: min_rpm must be within [0, max_rpm]", name)
		}
		if m.MaxRPMAcceleration < 0 {
			return fmt.Errorf("motor %q: max_rpm_acceleration must be >= 0", name)
		}
		if m.PolePairs < 0 {
			return fmt.Errorf("motor %q: pole_pairs must be >= 0", name)
		}
		if m.StartupRPM != nil && math.Abs(*m.StartupRPM) > m.MaxRPM {
			return fmt.Errorf("motor %q: startup_rpm %.1f exceeds max_rpm %.1f", name, *m.StartupRPM, m.MaxRPM)
		}

		if m.PollIntervalMs < 0 || m.TimeoutMs < 0 || m.KeepAliveMs < 0 {
			return fmt.Errorf("motor %q: durations must be >= 0", name)
		}

		r := m.Retry
		if r.MaxAttempts < 0 || r.InitialBackoffMs < 0 || r.MaxBackoffMs < 0 {
			return fmt.Errorf("motor %q: retry values must be >= 0", name)
		}
		if r.Multiplier != 0 && r.Multiplier < 1 {
			return fmt.Errorf("motor %q: retry multiplier must be >= 1", name)
		}
		if r.MaxBackoffMs > 0 && r.InitialBackoffMs > r.MaxBackoffMs {
			return fmt.Errorf("motor %q: retry initial_backoff_ms exceeds max_backoff_ms", name)
		}
		if m.MaxConsecutiveFailures < 0 {
			return fmt.Errorf("motor %q: max_consecutive_failures must be >= 0", name)
		}

		if m.StatusSlot != nil && cfg.Export == nil {
			return fmt.Errorf("motor %q: status_slot is set but no export section is defined", name)
		}
	}

	// ------------------------------------------------------------
	// EXCLUSIVE TRANSPORT OWNERSHIP
	// ------------------------------------------------------------

	// key = normalized address
	owner := make(map[string]string)

	// forwarded motors share their gateway's address; key = address
	bus := make(map[string]map[uint8]string)

	for _, name := range names {
		m := cfg.Motors[name]
		key := AddressKey(m.Address)

		if prev, exists := owner[key]; exists {
			if !m.ForwardCAN || !cfg.Motors[prev].ForwardCAN {
				return fmt.Errorf(
					"address collision: %s used by motors %q and %q",
					m.Address,
					prev,
					name,
				)
			}
		} else {
			owner[key] = name
		}

		if !m.ForwardCAN {
			continue
		}
		ids, ok := bus[key]
		if !ok {
			ids = make(map[uint8]string)
			bus[key] = ids
		}
		if prev, exists := ids[m.ControllerID]; exists {
			return fmt.Errorf(
				"controller_id collision: id %d on %s used by motors %q and %q",
				m.ControllerID,
				m.Address,
				prev,
				name,
			)
		}
		ids[m.ControllerID] = name
	}

	// ------------------------------------------------------------
	// STATUS EXPORT
	// ------------------------------------------------------------

	if cfg.Export != nil {
		if cfg.Export.Endpoint == "" {
			return fmt.Errorf("export: endpoint required")
		}
		if cfg.Export.TimeoutMs < 0 {
			return fmt.Errorf("export: timeout_ms must be >= 0")
		}

		slots := make(map[uint16]string)
		for _, name := range names {
			m := cfg.Motors[name]
			if m.StatusSlot == nil {
				continue
			}
			slot := *m.StatusSlot
			if slot > MaxStatusSlot {
				return fmt.Errorf("motor %q: status_slot %d exceeds %d", name, slot, MaxStatusSlot)
			}
			if prev, exists := slots[slot]; exists {
				return fmt.Errorf(
					"status_slot collision: slot=%d used by motors %q and %q",
					slot,
					prev,
					name,
				)
			}
			slots[slot] = name
		}
	}

	if cfg.HTTP != nil && cfg.HTTP.Listen == "" {
		return fmt.Errorf("http: listen address required")
	}

	return nil
}

// AddressKey normalizes an address for ownership checks: case and
// surrounding space are ignored and query options do not make two
// addresses distinct.
func AddressKey(address string) string {
	key := strings.ToLower(strings.TrimSpace(address))
	if i := strings.IndexByte(key, '?'); i >= 0 {
		key = key[:i]
	}
	return key
}
