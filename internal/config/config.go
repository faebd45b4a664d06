// internal/config/config.go
package config

import "time"

type Config struct {
	Motors map[string]MotorConfig `yaml:"motors"`
	Export *ExportConfig          `yaml:"export"`
	HTTP   *HTTPConfig            `yaml:"http"`
}

// ---- MOTOR ----

type MotorConfig struct {
	// Name is filled from the map key by Normalize.
	Name string `yaml:"-"`

	Address      string `yaml:"address"`
	Protocol     string `yaml:"protocol"` // vesc | modbus
	ControllerID uint8  `yaml:"controller_id"`
	ForwardCAN   bool   `yaml:"forward_can"`
	Enabled      *bool  `yaml:"enabled"`

	PollIntervalMs int `yaml:"poll_interval_ms"`
	TimeoutMs      int `yaml:"timeout_ms"`
	KeepAliveMs    int `yaml:"keepalive_ms"`

	MaxRPM             float64  `yaml:"max_rpm"`
	MinRPM             float64  `yaml:"min_rpm"`
	MaxRPMAcceleration float64  `yaml:"max_rpm_acceleration"` // rpm/s, 0 = unlimited
	PolePairs          float64  `yaml:"pole_pairs"`
	StartupRPM         *float64 `yaml:"startup_rpm"`

	Retry                  RetryConfig `yaml:"retry"`
	MaxConsecutiveFailures int         `yaml:"max_consecutive_failures"`

	Modbus *ModbusMapConfig `yaml:"modbus"`

	// Status export block (optional, opt-in)
	StatusSlot *uint16 `yaml:"status_slot"`
}

// ---- RETRY ----

type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier"`
}

// ---- MODBUS REGISTER MAP ----

type ModbusMapConfig struct {
	SetpointRegister  uint16 `yaml:"setpoint_register"`  // holding, int32 across 2 regs
	TelemetryRegister uint16 `yaml:"telemetry_register"` // input, 6 regs
}

// ---- STATUS EXPORT ----

// MaxStatusSlot keeps the 20-register block of the last slot inside the
// 16-bit register address space.
const MaxStatusSlot = 65536/20 - 1

type ExportConfig struct {
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- HTTP ----

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// ---- derived values ----

func (m MotorConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

func (m MotorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMs) * time.Millisecond
}

func (m MotorConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

func (m MotorConfig) KeepAlive() time.Duration {
	return time.Duration(m.KeepAliveMs) * time.Millisecond
}

func (r RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMs) * time.Millisecond
}

func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}
