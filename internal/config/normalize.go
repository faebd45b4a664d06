// internal/config/normalize.go
package config

import "sort"

// Defaults applied by Normalize.
const (
	DefaultPollIntervalMs         = 100
	DefaultTimeoutMs              = 200
	DefaultVESCKeepAliveMs        = 50
	DefaultPolePairs              = 1
	DefaultRetryMaxAttempts       = 3
	DefaultRetryInitialBackoffMs  = 20
	DefaultRetryMaxBackoffMs      = 500
	DefaultRetryMultiplier        = 2.0
	DefaultMaxConsecutiveFailures = 3
	DefaultExportTimeoutMs        = 1000
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	for name, m := range cfg.Motors {
		m.Name = name

		if m.Protocol == "" {
			m.Protocol = ProtocolVESC
		}
		if m.PollIntervalMs == 0 {
			m.PollIntervalMs = DefaultPollIntervalMs
		}
		if m.TimeoutMs == 0 {
			m.TimeoutMs = DefaultTimeoutMs
		}
		// VESC firmware stops the motor when commands stop arriving.
		// Modbus drives latch their setpoint, so no keepalive by default.
		if m.KeepAliveMs == 0 && m.Protocol == ProtocolVESC {
			m.KeepAliveMs = DefaultVESCKeepAliveMs
		}
		if m.PolePairs == 0 {
			m.PolePairs = DefaultPolePairs
		}

		if m.Retry.MaxAttempts == 0 {
			m.Retry.MaxAttempts = DefaultRetryMaxAttempts
		}
		if m.Retry.InitialBackoffMs == 0 {
			m.Retry.InitialBackoffMs = DefaultRetryInitialBackoffMs
		}
		if m.Retry.MaxBackoffMs == 0 {
			m.Retry.MaxBackoffMs = DefaultRetryMaxBackoffMs
		}
		if m.Retry.InitialBackoffMs > m.Retry.MaxBackoffMs {
			m.Retry.MaxBackoffMs = m.Retry.InitialBackoffMs
		}
		if m.Retry.Multiplier == 0 {
			m.Retry.Multiplier = DefaultRetryMultiplier
		}
		if m.MaxConsecutiveFailures == 0 {
			m.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
		}

		if m.Protocol == ProtocolModbus && m.Modbus == nil {
			m.Modbus = &ModbusMapConfig{}
		}

		cfg.Motors[name] = m
	}

	if cfg.Export != nil && cfg.Export.TimeoutMs == 0 {
		cfg.Export.TimeoutMs = DefaultExportTimeoutMs
	}
}

// Entries returns the normalized motor entries sorted by name.
func (c *Config) Entries() []MotorConfig {
	out := make([]MotorConfig, 0, len(c.Motors))
	for _, m := range c.Motors {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
