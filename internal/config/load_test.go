// internal/config/load_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
motors:
  atomiser1:
    address: serial:///dev/ttyACM0?baud=115200
    max_rpm: 20000
    pole_pairs: 7
    startup_rpm: 1000
  pump:
    address: rtu:///dev/ttyUSB0?slave=3
    protocol: modbus
    max_rpm: 3000
    modbus:
      setpoint_register: 100
      telemetry_register: 200
http:
  listen: ":8080"
`

func TestLoad_YAMLValidateNormalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	Normalize(cfg)

	entries := cfg.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "atomiser1", entries[0].Name)
	assert.Equal(t, "pump", entries[1].Name)

	a := entries[0]
	assert.Equal(t, ProtocolVESC, a.Protocol)
	assert.Equal(t, DefaultPollIntervalMs, a.PollIntervalMs)
	assert.Equal(t, DefaultVESCKeepAliveMs, a.KeepAliveMs)
	assert.Equal(t, 7.0, a.PolePairs)
	assert.Equal(t, DefaultRetryMaxAttempts, a.Retry.MaxAttempts)
	assert.True(t, a.IsEnabled())
	require.NotNil(t, a.StartupRPM)
	assert.Equal(t, 1000.0, *a.StartupRPM)

	p := entries[1]
	assert.Equal(t, 0, p.KeepAliveMs, "modbus drives get no keepalive by default")
	require.NotNil(t, p.Modbus)
	assert.Equal(t, uint16(200), p.Modbus.TelemetryRegister)
}

// JSON configs are accepted since YAML is a superset.
func TestParse_JSON(t *testing.T) {
	raw := []byte(`{"motors": {"atomiser1": {"address": "tcp://10.0.0.5:65102", "max_rpm": 15000, "enabled": false}}}`)

	cfg, err := Parse(raw)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	Normalize(cfg)

	m := cfg.Motors["atomiser1"]
	assert.Equal(t, "atomiser1", m.Name)
	assert.False(t, m.IsEnabled())
	assert.Equal(t, 15000.0, m.MaxRPM)
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte("motors:\n  a:\n    adress: tcp://x:1\n"))
	assert.Error(t, err)
}
