// internal/protocol/vesc/codec.go

// Package vesc implements the VESC UART command set on top of the
// generic protocol.Codec contract.
package vesc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

// Command ids (bldc firmware, comm/commands.c).
const (
	CommGetValues       byte = 4
	CommSetDuty         byte = 5
	CommSetCurrent      byte = 6
	CommSetCurrentBrake byte = 7
	CommSetRPM          byte = 8
	CommForwardCAN      byte = 34
)

// Wire scaling.
const (
	scaleDuty    = 100000.0
	scaleCurrent = 1000.0
)

// ValuesLen is the minimum COMM_GET_VALUES reply body (after the id byte).
// Newer firmware appends fields; they are ignored.
const ValuesLen = 53

// Options configure a Codec. Zero MaxCurrent disables the current check.
type Options struct {
	MaxRPM     float64 // mechanical rpm
	PolePairs  float64 // erpm = rpm * PolePairs
	MaxCurrent float64
	ForwardCAN bool // wrap commands in COMM_FORWARD_CAN
}

// Codec is the VESC implementation of protocol.Codec.
type Codec struct {
	opts Options
}

var _ protocol.Codec = (*Codec)(nil)

func New(opts Options) *Codec {
	if opts.PolePairs <= 0 {
		opts.PolePairs = 1
	}
	return &Codec{opts: opts}
}

// Encode builds a checksummed frame for cmd.
func (c *Codec) Encode(cmd protocol.Command, controllerID uint8) (protocol.Frame, error) {
	body, err := c.encodeBody(cmd)
	if err != nil {
		return protocol.Frame{}, err
	}

	f := protocol.Frame{Payload: body, Checksum: Checksum(body)}
	if c.opts.ForwardCAN {
		f = Forward(f, controllerID)
	}
	return f, nil
}

// Forward wraps f in a COMM_FORWARD_CAN header addressed to controllerID.
func Forward(f protocol.Frame, controllerID uint8) protocol.Frame {
	p := make([]byte, 0, len(f.Payload)+2)
	p = append(p, CommForwardCAN, controllerID)
	p = append(p, f.Payload...)
	return protocol.Frame{Payload: p, Checksum: Checksum(p)}
}

// ForwardedID returns the CAN id of a frame carrying a COMM_FORWARD_CAN
// header. Frames without one report false.
func ForwardedID(f protocol.Frame) (uint8, bool) {
	if len(f.Payload) < 3 || f.Payload[0] != CommForwardCAN {
		return 0, false
	}
	return f.Payload[1], true
}

func (c *Codec) encodeBody(cmd protocol.Command) ([]byte, error) {
	v := cmd.Value
	if cmd.Kind != protocol.CommandRequestTelemetry && (math.IsNaN(v) || math.IsInf(v, 0)) {
		return nil, fmt.Errorf("vesc: %s: %w: %v", cmd.Kind, protocol.ErrOutOfRange, v)
	}

	switch cmd.Kind {
	case protocol.CommandRequestTelemetry:
		return []byte{CommGetValues}, nil

	case protocol.CommandSetRPM:
		if math.Abs(v) > c.opts.MaxRPM {
			return nil, fmt.Errorf("vesc: rpm %.1f outside ±%.1f: %w", v, c.opts.MaxRPM, protocol.ErrOutOfRange)
		}
		return putScaled(CommSetRPM, v*c.opts.PolePairs)

	case protocol.CommandSetDuty:
		if math.Abs(v) > 1 {
			return nil, fmt.Errorf("vesc: duty %.3f outside ±1: %w", v, protocol.ErrOutOfRange)
		}
		return putScaled(CommSetDuty, v*scaleDuty)

	case protocol.CommandSetCurrent, protocol.CommandSetCurrentBrake:
		if c.opts.MaxCurrent > 0 && math.Abs(v) > c.opts.MaxCurrent {
			return nil, fmt.Errorf("vesc: current %.2fA outside ±%.2fA: %w", v, c.opts.MaxCurrent, protocol.ErrOutOfRange)
		}
		id := CommSetCurrent
		if cmd.Kind == protocol.CommandSetCurrentBrake {
			id = CommSetCurrentBrake
		}
		return putScaled(id, v*scaleCurrent)

	default:
		return nil, fmt.Errorf("vesc: %s: %w", cmd.Kind, protocol.ErrUnsupportedCommand)
	}
}

func putScaled(id byte, scaled float64) ([]byte, error) {
	scaled = math.Round(scaled)
	if scaled > math.MaxInt32 || scaled < math.MinInt32 {
		return nil, fmt.Errorf("vesc: scaled value %.0f overflows int32: %w", scaled, protocol.ErrOutOfRange)
	}
	b := make([]byte, 5)
	b[0] = id
	binary.BigEndian.PutUint32(b[1:], uint32(int32(scaled)))
	return b, nil
}

// Decode validates the checksum, then the layout, then the command id.
func (c *Codec) Decode(f protocol.Frame) (protocol.Message, error) {
	if Checksum(f.Payload) != f.Checksum {
		return nil, fmt.Errorf("vesc: got=0x%04x want=0x%04x: %w", f.Checksum, Checksum(f.Payload), protocol.ErrChecksumMismatch)
	}

	p := f.Payload
	if len(p) == 0 {
		return nil, fmt.Errorf("vesc: empty payload: %w", protocol.ErrMalformedFrame)
	}

	if p[0] == CommForwardCAN {
		if len(p) < 3 {
			return nil, fmt.Errorf("vesc: short forward header: %w", protocol.ErrMalformedFrame)
		}
		p = p[2:]
	}

	id, body := p[0], p[1:]

	switch id {
	case CommGetValues:
		if len(body) == 0 {
			return protocol.Ack{Command: protocol.RequestTelemetry(), HasValue: true}, nil
		}
		if len(body) < ValuesLen {
			return nil, fmt.Errorf("vesc: values body %d bytes, want >= %d: %w", len(body), ValuesLen, protocol.ErrMalformedFrame)
		}
		return c.decodeValues(body), nil

	case CommSetRPM, CommSetDuty, CommSetCurrent, CommSetCurrentBrake:
		if len(body) != 4 {
			return nil, fmt.Errorf("vesc: command 0x%02x body %d bytes, want 4: %w", id, len(body), protocol.ErrMalformedFrame)
		}
		raw := float64(int32(binary.BigEndian.Uint32(body)))
		return protocol.Ack{Command: c.commandFor(id, raw), HasValue: true}, nil

	default:
		return nil, fmt.Errorf("vesc: command 0x%02x: %w", id, protocol.ErrUnknownFrameType)
	}
}

func (c *Codec) commandFor(id byte, raw float64) protocol.Command {
	switch id {
	case CommSetDuty:
		return protocol.SetDuty(raw / scaleDuty)
	case CommSetCurrent:
		return protocol.SetCurrent(raw / scaleCurrent)
	case CommSetCurrentBrake:
		return protocol.SetCurrentBrake(raw / scaleCurrent)
	default:
		return protocol.SetRPM(raw / c.opts.PolePairs)
	}
}

// COMM_GET_VALUES layout (big-endian):
//
//	0  temp_fet    int16 /10      26 v_in            int16 /10
//	2  temp_motor  int16 /10      28 amp_hours       int32 /1e4
//	4  current     int32 /100     32 amp_hours_chg   int32 /1e4
//	8  current_in  int32 /100     36 watt_hours      int32 /1e4
//	12 id          int32 /100     40 watt_hours_chg  int32 /1e4
//	16 iq          int32 /100     44 tachometer      int32
//	20 duty        int16 /1000    48 tachometer_abs  int32
//	22 erpm        int32          52 fault           uint8
func (c *Codec) decodeValues(b []byte) protocol.Telemetry {
	i16 := func(off int) float64 { return float64(int16(binary.BigEndian.Uint16(b[off:]))) }
	i32 := func(off int) float64 { return float64(int32(binary.BigEndian.Uint32(b[off:]))) }

	return protocol.Telemetry{
		TempFET:    i16(0) / 10,
		TempMotor:  i16(2) / 10,
		Current:    i32(4) / 100,
		Duty:       i16(20) / 1000,
		RPM:        i32(22) / c.opts.PolePairs,
		Voltage:    i16(26) / 10,
		Tachometer: int32(binary.BigEndian.Uint32(b[44:])),
		Fault:      b[52],
	}
}

// EncodeValues builds a COMM_GET_VALUES reply frame. It is the device side
// of the exchange and is used by simulators and tests.
func (c *Codec) EncodeValues(t protocol.Telemetry) protocol.Frame {
	p := make([]byte, 1+ValuesLen)
	p[0] = CommGetValues
	b := p[1:]

	put16 := func(off int, v float64) { binary.BigEndian.PutUint16(b[off:], uint16(int16(math.Round(v)))) }
	put32 := func(off int, v float64) { binary.BigEndian.PutUint32(b[off:], uint32(int32(math.Round(v)))) }

	put16(0, t.TempFET*10)
	put16(2, t.TempMotor*10)
	put32(4, t.Current*100)
	put16(20, t.Duty*1000)
	put32(22, t.RPM*c.opts.PolePairs)
	put16(26, t.Voltage*10)
	binary.BigEndian.PutUint32(b[44:], uint32(t.Tachometer))
	b[52] = t.Fault

	return protocol.Frame{Payload: p, Checksum: Checksum(p)}
}
