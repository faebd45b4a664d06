// internal/fleet/builder_test.go
package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/motor-fleet/internal/config"
	"github.com/tamzrod/motor-fleet/internal/protocol"
	pmodbus "github.com/tamzrod/motor-fleet/internal/protocol/modbus"
	"github.com/tamzrod/motor-fleet/internal/protocol/vesc"
	"github.com/tamzrod/motor-fleet/internal/transport"
)

func normalized(t *testing.T, m config.MotorConfig) config.MotorConfig {
	t.Helper()
	cfg := &config.Config{Motors: map[string]config.MotorConfig{"m": m}}
	require.NoError(t, config.Validate(cfg))
	config.Normalize(cfg)
	return cfg.Motors["m"]
}

func TestSessionConfig(t *testing.T) {
	startup := 250.0
	disabled := false
	m := normalized(t, config.MotorConfig{
		Address:            "serial:///dev/ttyACM0",
		ControllerID:       4,
		Enabled:            &disabled,
		MaxRPM:             5000,
		MinRPM:             200,
		MaxRPMAcceleration: 1500,
		StartupRPM:         &startup,
		TimeoutMs:          75,
	})

	sc := SessionConfig(m)
	assert.Equal(t, "m", sc.Name)
	assert.Equal(t, uint8(4), sc.ControllerID)
	assert.False(t, sc.Enabled)
	assert.Equal(t, 75*time.Millisecond, sc.Timeout)
	assert.Equal(t, time.Duration(config.DefaultPollIntervalMs)*time.Millisecond, sc.PollInterval)
	assert.Equal(t, time.Duration(config.DefaultVESCKeepAliveMs)*time.Millisecond, sc.KeepAlive)
	assert.Equal(t, config.DefaultRetryMaxAttempts, sc.Retry.MaxAttempts)
	assert.Equal(t, config.DefaultMaxConsecutiveFailures, sc.MaxConsecutiveFailures)
	assert.Equal(t, 1500.0, sc.MaxRPMAcceleration)
	assert.Equal(t, 200.0, sc.MinRPM)
	require.NotNil(t, sc.StartupRPM)
	assert.Equal(t, 250.0, *sc.StartupRPM)
}

func TestNewCodec(t *testing.T) {
	c, err := NewCodec(normalized(t, config.MotorConfig{Address: "sim://a", MaxRPM: 100}))
	require.NoError(t, err)
	assert.IsType(t, &vesc.Codec{}, c)

	c, err = NewCodec(normalized(t, config.MotorConfig{Address: "sim://a", MaxRPM: 100, Protocol: config.ProtocolModbus}))
	require.NoError(t, err)
	assert.IsType(t, &pmodbus.Codec{}, c)

	_, err = NewCodec(config.MotorConfig{Name: "x", Protocol: "canopen"})
	assert.Error(t, err)
}

func TestDialTransport_Sim(t *testing.T) {
	dial := DialTransport(nil)

	tr, err := dial(context.Background(), normalized(t, config.MotorConfig{
		Address:  "sim://drive",
		Protocol: config.ProtocolModbus,
		MaxRPM:   3000,
	}))
	require.NoError(t, err)
	defer tr.Close()
	assert.True(t, transport.ConfirmsWrites(tr))

	tr, err = dial(context.Background(), normalized(t, config.MotorConfig{Address: "sim://vesc", MaxRPM: 3000}))
	require.NoError(t, err)
	defer tr.Close()
	assert.False(t, transport.ConfirmsWrites(tr))
}

func TestDialTransport_UnsupportedScheme(t *testing.T) {
	_, err := DialTransport(nil)(context.Background(), config.MotorConfig{Name: "m", Address: "can://can0"})
	assert.Error(t, err)
}

func TestBuild_ModbusRoundTripOverSim(t *testing.T) {
	m := normalized(t, config.MotorConfig{
		Address:  "sim://drive",
		Protocol: config.ProtocolModbus,
		MaxRPM:   3000,
		Modbus:   &config.ModbusMapConfig{SetpointRegister: 40, TelemetryRegister: 100},
	})

	sess, err := Build(m, DialTransport(nil), nil)
	require.NoError(t, err)
	require.NoError(t, sess.Connect(context.Background()))
	defer sess.Close()

	require.NoError(t, sess.SetRPM(context.Background(), 1200))
	tel, err := sess.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1200.0, tel.RPM)

	assert.ErrorIs(t, sess.SetDuty(context.Background(), 0.2), protocol.ErrUnsupportedCommand)
}
