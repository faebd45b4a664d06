// internal/config/validate_test.go
package config

import (
	"strings"
	"testing"
)

// helper to build a motor quickly
func motor(address string, maxRPM float64) MotorConfig {
	return MotorConfig{
		Address: address,
		MaxRPM:  maxRPM,
	}
}

func ptr[T any](v T) *T { return &v }

// ---- tests ----

func TestValidate_Minimal(t *testing.T) {
	cfg := &Config{
		Motors: map[string]MotorConfig{
			"atomiser1": motor("serial:///dev/ttyACM0", 20000),
		},
	}

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_NoMotors(t *testing.T) {
	if err := Validate(&Config{}); err == nil {
		t.Fatalf("expected error for empty fleet, got nil")
	}
}

func TestValidate_AddressCollisionDetected(t *testing.T) {
	cfg := &Config{
		Motors: map[string]MotorConfig{
			"a": motor("serial:///dev/ttyACM0?baud=115200", 1000),
			"b": motor("SERIAL:///dev/ttyACM0", 1000),
		},
	}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected address collision error, got nil")
	}
}

func TestValidate_DistinctAddressesAllowed(t *testing.T) {
	cfg := &Config{
		Motors: map[string]MotorConfig{
			"a": motor("serial:///dev/ttyACM0", 1000),
			"b": motor("serial:///dev/ttyACM1", 1000),
		},
	}

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MaxRPMRequired(t *testing.T) {
	cfg := &Config{
		Motors: map[string]MotorConfig{
			"a": motor("tcp://127.0.0.1:65102", 0),
		},
	}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected max_rpm error, got nil")
	}
}

func TestValidate_StartupRPMOutOfRange(t *testing.T) {
	m := motor("tcp://127.0.0.1:65102", 1000)
	m.StartupRPM = ptr(1500.0)

	cfg := &Config{Motors: map[string]MotorConfig{"a": m}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected startup_rpm error, got nil")
	}
}

func TestValidate_UnknownProtocol(t *testing.T) {
	m := motor("tcp://127.0.0.1:65102", 1000)
	m.Protocol = "canopen"

	cfg := &Config{Motors: map[string]MotorConfig{"a": m}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected protocol error, got nil")
	}
}

func TestValidate_ForwardCANRequiresVESC(t *testing.T) {
	m := motor("rtu:///dev/ttyUSB0", 1000)
	m.Protocol = ProtocolModbus
	m.ForwardCAN = true

	cfg := &Config{Motors: map[string]MotorConfig{"a": m}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected forward_can error, got nil")
	}
}

// helper for a motor behind a CAN gateway
func forwarded(address string, id uint8) MotorConfig {
	m := motor(address, 20000)
	m.ForwardCAN = true
	m.ControllerID = id
	return m
}

func TestValidate_ForwardedMotorsShareAddress(t *testing.T) {
	cfg := &Config{
		Motors: map[string]MotorConfig{
			"left":  forwarded("serial:///dev/ttyACM0", 1),
			"right": forwarded("serial:///dev/ttyACM0", 2),
		},
	}

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ForwardedControllerIDCollision(t *testing.T) {
	cfg := &Config{
		Motors: map[string]MotorConfig{
			"left":  forwarded("serial:///dev/ttyACM0", 1),
			"right": forwarded("serial:///dev/ttyACM0?baud=115200", 1),
		},
	}

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "controller_id collision") {
		t.Fatalf("expected controller_id collision, got %v", err)
	}
}

func TestValidate_ForwardedAndDirectCollide(t *testing.T) {
	cfg := &Config{
		Motors: map[string]MotorConfig{
			"direct":    motor("serial:///dev/ttyACM0", 1000),
			"forwarded": forwarded("serial:///dev/ttyACM0", 2),
		},
	}

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "address collision") {
		t.Fatalf("expected address collision, got %v", err)
	}
}

func TestValidate_StatusSlotRequiresExport(t *testing.T) {
	m := motor("tcp://127.0.0.1:65102", 1000)
	m.StatusSlot = ptr(uint16(0))

	cfg := &Config{Motors: map[string]MotorConfig{"a": m}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected status_slot error, got nil")
	}
}

func TestValidate_StatusSlotCollisionDetected(t *testing.T) {
	a := motor("serial:///dev/ttyACM0", 1000)
	a.StatusSlot = ptr(uint16(2))
	b := motor("serial:///dev/ttyACM1", 1000)
	b.StatusSlot = ptr(uint16(2))

	cfg := &Config{
		Motors: map[string]MotorConfig{"a": a, "b": b},
		Export: &ExportConfig{Endpoint: "127.0.0.1:502"},
	}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected status_slot collision error, got nil")
	}
}

func TestValidate_StatusSlotOutOfRange(t *testing.T) {
	m := motor("serial:///dev/ttyACM0", 1000)
	m.StatusSlot = ptr(uint16(MaxStatusSlot + 1))

	cfg := &Config{
		Motors: map[string]MotorConfig{"a": m},
		Export: &ExportConfig{Endpoint: "127.0.0.1:502"},
	}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected status_slot range error, got nil")
	}

	m.StatusSlot = ptr(uint16(MaxStatusSlot))
	cfg.Motors["a"] = m
	if err := Validate(cfg); err != nil {
		t.Fatalf("last slot rejected: %v", err)
	}
}

func TestValidate_NonASCIIName(t *testing.T) {
	cfg := &Config{
		Motors: map[string]MotorConfig{
			"zerstäuber": motor("serial:///dev/ttyACM0", 1000),
		},
	}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected ascii error, got nil")
	}
}
