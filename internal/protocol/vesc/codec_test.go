// internal/protocol/vesc/codec_test.go
package vesc

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

func TestChecksum_XMODEMCheckValue(t *testing.T) {
	assert.Equal(t, uint16(0x31C3), Checksum([]byte("123456789")))
	assert.Equal(t, uint16(0), Checksum(nil))
}

func TestEncode_SetRPMLayout(t *testing.T) {
	c := New(Options{MaxRPM: 20000, PolePairs: 7})

	f, err := c.Encode(protocol.SetRPM(12000), 0)
	require.NoError(t, err)

	// 12000 rpm * 7 pole pairs = 84000 erpm = 0x00014820
	assert.Equal(t, []byte{CommSetRPM, 0x00, 0x01, 0x48, 0x20}, f.Payload)
	assert.Equal(t, Checksum(f.Payload), f.Checksum)
}

func TestEncode_ForwardCAN(t *testing.T) {
	c := New(Options{MaxRPM: 5000, ForwardCAN: true})

	f, err := c.Encode(protocol.RequestTelemetry(), 17)
	require.NoError(t, err)
	assert.Equal(t, []byte{CommForwardCAN, 17, CommGetValues}, f.Payload)

	msg, err := c.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, protocol.Ack{Command: protocol.RequestTelemetry(), HasValue: true}, msg)
}

func TestForwardedID(t *testing.T) {
	c := New(Options{MaxRPM: 5000})
	reply := c.EncodeValues(protocol.Telemetry{RPM: 1200, Voltage: 24})

	_, ok := ForwardedID(reply)
	assert.False(t, ok)

	wrapped := Forward(reply, 42)
	id, ok := ForwardedID(wrapped)
	require.True(t, ok)
	assert.Equal(t, uint8(42), id)

	// the forward header is stripped on decode
	msg, err := c.Decode(wrapped)
	require.NoError(t, err)
	assert.InDelta(t, 1200, msg.(protocol.Telemetry).RPM, 0.5)
}

func TestCodec_RoundTrip(t *testing.T) {
	codecs := map[string]*Codec{
		"direct":      New(Options{MaxRPM: 30000, PolePairs: 7, MaxCurrent: 60}),
		"forward can": New(Options{MaxRPM: 30000, PolePairs: 2, ForwardCAN: true}),
	}

	cmds := []protocol.Command{
		protocol.SetRPM(0),
		protocol.SetRPM(12000),
		protocol.SetRPM(-30000),
		protocol.SetDuty(0.25),
		protocol.SetDuty(-1),
		protocol.SetCurrent(12.5),
		protocol.SetCurrentBrake(3),
		protocol.RequestTelemetry(),
	}

	for name, c := range codecs {
		for _, cmd := range cmds {
			t.Run(name+"/"+cmd.String(), func(t *testing.T) {
				f, err := c.Encode(cmd, 3)
				require.NoError(t, err)

				msg, err := c.Decode(f)
				require.NoError(t, err)

				ack, ok := msg.(protocol.Ack)
				require.True(t, ok, "expected Ack, got %T", msg)
				assert.Equal(t, cmd.Kind, ack.Command.Kind)
				assert.InDelta(t, cmd.Value, ack.Command.Value, 1e-9)
			})
		}
	}
}

func TestDecode_SingleBitFlipRejected(t *testing.T) {
	c := New(Options{MaxRPM: 20000})
	frames := []protocol.Frame{
		mustEncode(t, c, protocol.SetRPM(12000)),
		c.EncodeValues(protocol.Telemetry{RPM: 1000, Voltage: 48.2, Current: 3.1}),
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

func TestDecode_Values(t *testing.T) {
	c := New(Options{MaxRPM: 20000, PolePairs: 7})
	want := protocol.Telemetry{
		RPM:        12000,
		Voltage:    48.3,
		Current:    -4.25,
		Duty:       0.512,
		TempFET:    41.5,
		TempMotor:  55.1,
		Tachometer: -123456,
		Fault:      2,
	}

	msg, err := c.Decode(c.EncodeValues(want))
	require.NoError(t, err)

	got, ok := msg.(protocol.Telemetry)
	require.True(t, ok)
	assert.InDelta(t, want.RPM, got.RPM, 1e-9)
	assert.InDelta(t, want.Voltage, got.Voltage, 1e-9)
	assert.InDelta(t, want.Current, got.Current, 1e-9)
	assert.InDelta(t, want.Duty, got.Duty, 1e-9)
	assert.InDelta(t, want.TempFET, got.TempFET, 1e-9)
	assert.InDelta(t, want.TempMotor, got.TempMotor, 1e-9)
	assert.Equal(t, want.Tachometer, got.Tachometer)
	assert.Equal(t, want.Fault, got.Fault)
	assert.True(t, got.At.IsZero(), "codec must not stamp time")
}

func TestDecode_Errors(t *testing.T) {
	c := New(Options{MaxRPM: 1000})

	seal := func(p ...byte) protocol.Frame { return protocol.Frame{Payload: p, Checksum: Checksum(p)} }

	tests := []struct {
		name  string
		frame protocol.Frame
		want  error
	}{
		{"empty payload", seal(), protocol.ErrMalformedFrame},
		{"short values", seal(append([]byte{CommGetValues}, make([]byte, 10)...)...), protocol.ErrMalformedFrame},
		{"short set rpm", seal(CommSetRPM, 0x00, 0x01), protocol.ErrMalformedFrame},
		{"short forward header", seal(CommForwardCAN, 1), protocol.ErrMalformedFrame},
		{"unknown id", seal(0x42, 0x00), protocol.ErrUnknownFrameType},
		{"bad checksum", protocol.Frame{Payload: []byte{CommGetValues}, Checksum: 1}, protocol.ErrChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.frame)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, protocol.IsDecodingError(err))
		})
	}
}

func TestEncode_OutOfRange(t *testing.T) {
	c := New(Options{MaxRPM: 1000, MaxCurrent: 10})

	for _, cmd := range []protocol.Command{
		protocol.SetRPM(1000.5),
		protocol.SetRPM(-2000),
		protocol.SetRPM(math.NaN()),
		protocol.SetRPM(math.Inf(1)),
		protocol.SetDuty(1.01),
		protocol.SetCurrent(-11),
		protocol.SetCurrentBrake(10.5),
	} {
		_, err := c.Encode(cmd, 0)
		assert.ErrorIs(t, err, protocol.ErrOutOfRange, cmd.String())
		assert.True(t, protocol.IsEncodingError(err))
	}

	_, err := c.Encode(protocol.Command{Kind: 99}, 0)
	assert.ErrorIs(t, err, protocol.ErrUnsupportedCommand)
}

func mustEncode(t *testing.T, c *Codec, cmd protocol.Command) protocol.Frame {
	t.Helper()
	f, err := c.Encode(cmd, 0)
	require.NoError(t, err)
	return f
}
