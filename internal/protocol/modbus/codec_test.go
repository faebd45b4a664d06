// internal/protocol/modbus/codec_test.go
package modbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

func TestChecksum_ModbusCheckValue(t *testing.T) {
	assert.Equal(t, uint16(0x4B37), Checksum([]byte("123456789")))
}

func TestEncode_SetRPMPDU(t *testing.T) {
	c := New(RegisterMap{Setpoint: 100, Telemetry: 200}, 3000)

	f, err := c.Encode(protocol.SetRPM(-1500), 0)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x10, 0x00, 0x64, 0x00, 0x02, 0x04, 0xFF, 0xFF, 0xFA, 0x24}, f.Payload)
}

func TestEncode_RequestTelemetryPDU(t *testing.T) {
	c := New(RegisterMap{Setpoint: 100, Telemetry: 200}, 3000)

	f, err := c.Encode(protocol.RequestTelemetry(), 0)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x04, 0x00, 0xC8, 0x00, 0x06}, f.Payload)
}

func TestCodec_RoundTrip(t *testing.T) {
	c := New(RegisterMap{Setpoint: 1, Telemetry: 2}, 3000)

	for _, cmd := range []protocol.Command{
		protocol.SetRPM(0),
		protocol.SetRPM(2999),
		protocol.SetRPM(-3000),
		protocol.RequestTelemetry(),
	} {
		f, err := c.Encode(cmd, 0)
		require.NoError(t, err)

		msg, err := c.Decode(f)
		require.NoError(t, err)
		assert.Equal(t, protocol.Ack{Command: cmd, HasValue: true}, msg)
	}
}

func TestDecode_SingleBitFlipRejected(t *testing.T) {
	c := New(RegisterMap{Setpoint: 100, Telemetry: 200}, 3000)
	setpoint, err := c.Encode(protocol.SetRPM(-1500), 0)
	require.NoError(t, err)
	frames := []protocol.Frame{
		setpoint,
		EncodeTelemetryReply(protocol.Telemetry{RPM: 1450, Voltage: 400.5, Current: 2.3, TempMotor: 61.2}),
	}

	for _, f := range frames {
		for bit := 0; bit < len(f.Payload)*8; bit++ {
			corrupt := append([]byte(nil), f.Payload...)
			corrupt[bit/8] ^= 1 << (bit % 8)

			_, err := c.Decode(protocol.Frame{Payload: corrupt, Checksum: f.Checksum})
			if !errors.Is(err, protocol.ErrChecksumMismatch) {
				t.Fatalf("bit %d: expected checksum mismatch, got %v", bit, err)
			}
		}
	}
}

func TestDecode_TelemetryReply(t *testing.T) {
	c := New(RegisterMap{}, 3000)
	want := protocol.Telemetry{RPM: -1450, Voltage: 400.5, Current: -2.3, TempMotor: 61.2, Fault: 4}

	msg, err := c.Decode(EncodeTelemetryReply(want))
	require.NoError(t, err)

	got := msg.(protocol.Telemetry)
	assert.InDelta(t, want.RPM, got.RPM, 1e-9)
	assert.InDelta(t, want.Voltage, got.Voltage, 1e-9)
	assert.InDelta(t, want.Current, got.Current, 1e-9)
	assert.InDelta(t, want.TempMotor, got.TempMotor, 1e-9)
	assert.Equal(t, want.Fault, got.Fault)
}

func TestDecode_WriteConfirmation(t *testing.T) {
	c := New(RegisterMap{}, 3000)
	p := []byte{0x10, 0x00, 0x64, 0x00, 0x02}

	msg, err := c.Decode(protocol.Frame{Payload: p, Checksum: Checksum(p)})
	require.NoError(t, err)
	assert.Equal(t, protocol.Ack{Command: protocol.Command{Kind: protocol.CommandSetRPM}}, msg)
}

func TestDecode_Exception(t *testing.T) {
	c := New(RegisterMap{}, 3000)
	p := []byte{0x84, 0x02}

	_, err := c.Decode(protocol.Frame{Payload: p, Checksum: Checksum(p)})

	var exc *ExceptionError
	require.True(t, errors.As(err, &exc))
	assert.Equal(t, byte(0x04), exc.Function)
	assert.Equal(t, uint16(2), exc.ModbusCode())
}

func TestDecode_Errors(t *testing.T) {
	c := New(RegisterMap{}, 3000)
	seal := func(p ...byte) protocol.Frame { return protocol.Frame{Payload: p, Checksum: Checksum(p)} }

	assert.ErrorIs(t, mustFail(c, protocol.Frame{Payload: []byte{0x04, 0x00}, Checksum: 0}), protocol.ErrChecksumMismatch)
	assert.ErrorIs(t, mustFail(c, seal(0x04)), protocol.ErrMalformedFrame)
	assert.ErrorIs(t, mustFail(c, seal(0x04, 0x04, 1, 2, 3, 4)), protocol.ErrMalformedFrame)
	assert.ErrorIs(t, mustFail(c, seal(0x10, 0, 0)), protocol.ErrMalformedFrame)
	assert.ErrorIs(t, mustFail(c, seal(0x03, 0x02, 0, 0)), protocol.ErrUnknownFrameType)
}

func TestEncode_Unsupported(t *testing.T) {
	c := New(RegisterMap{}, 3000)

	_, err := c.Encode(protocol.SetDuty(0.5), 0)
	assert.ErrorIs(t, err, protocol.ErrUnsupportedCommand)

	_, err = c.Encode(protocol.SetRPM(3001), 0)
	assert.ErrorIs(t, err, protocol.ErrOutOfRange)
}

func mustFail(c *Codec, f protocol.Frame) error {
	_, err := c.Decode(f)
	return err
}
