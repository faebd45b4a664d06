// internal/protocol/modbus/codec.go

// Package modbus maps the command/telemetry model onto a Modbus register
// map, for drives that expose speed control over Modbus RTU or TCP.
// Frames carry PDUs; addressing (slave id) and ADU framing belong to the
// transport.
package modbus

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tamzrod/motor-fleet/internal/protocol"
)

const (
	fcReadInputRegisters     byte = 0x04
	fcWriteMultipleRegisters byte = 0x10
	exceptionFlag            byte = 0x80
)

// Telemetry block, input registers starting at RegisterMap.Telemetry:
//
//	+0,+1 rpm          int32 (high word first)
//	+2    voltage      uint16 ×10
//	+3    current      int16  ×10
//	+4    temperature  int16  ×10
//	+5    fault code   uint16
const TelemetryRegisters = 6

// RegisterMap locates the drive's setpoint and telemetry registers.
type RegisterMap struct {
	Setpoint  uint16 // holding, int32 across 2 regs
	Telemetry uint16 // input, TelemetryRegisters regs
}

// ExceptionError is a Modbus exception reply.
type ExceptionError struct {
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception: fc=%d code=%d", e.Function, e.Code)
}

// ModbusCode exposes the raw exception code.
func (e *ExceptionError) ModbusCode() uint16 { return uint16(e.Code) }

// Codec is the Modbus implementation of protocol.Codec.
type Codec struct {
	regs   RegisterMap
	maxRPM float64
}

var _ protocol.Codec = (*Codec)(nil)

func New(regs RegisterMap, maxRPM float64) *Codec {
	return &Codec{regs: regs, maxRPM: maxRPM}
}

// Encode builds a request PDU. controllerID is ignored; the transport
// addresses the slave.
func (c *Codec) Encode(cmd protocol.Command, _ uint8) (protocol.Frame, error) {
	var pdu []byte

	switch cmd.Kind {
	case protocol.CommandSetRPM:
		v := cmd.Value
		if math.IsNaN(v) || math.Abs(v) > c.maxRPM {
			return protocol.Frame{}, fmt.Errorf("modbus: rpm %v outside ±%.1f: %w", v, c.maxRPM, protocol.ErrOutOfRange)
		}
		pdu = make([]byte, 10)
		pdu[0] = fcWriteMultipleRegisters
		binary.BigEndian.PutUint16(pdu[1:], c.regs.Setpoint)
		binary.BigEndian.PutUint16(pdu[3:], 2)
		pdu[5] = 4
		binary.BigEndian.PutUint32(pdu[6:], uint32(int32(math.Round(v))))

	case protocol.CommandRequestTelemetry:
		pdu = make([]byte, 5)
		pdu[0] = fcReadInputRegisters
		binary.BigEndian.PutUint16(pdu[1:], c.regs.Telemetry)
		binary.BigEndian.PutUint16(pdu[3:], TelemetryRegisters)

	default:
		return protocol.Frame{}, fmt.Errorf("modbus: %s: %w", cmd.Kind, protocol.ErrUnsupportedCommand)
	}

	return protocol.Frame{Payload: pdu, Checksum: Checksum(pdu)}, nil
}

// Decode accepts request PDUs (yielding the equivalent Ack), write
// confirmations, telemetry reads and exception replies.
func (c *Codec) Decode(f protocol.Frame) (protocol.Message, error) {
	if Checksum(f.Payload) != f.Checksum {
		return nil, fmt.Errorf("modbus: got=0x%04x want=0x%04x: %w", f.Checksum, Checksum(f.Payload), protocol.ErrChecksumMismatch)
	}

	p := f.Payload
	if len(p) < 2 {
		return nil, fmt.Errorf("modbus: pdu %d bytes: %w", len(p), protocol.ErrMalformedFrame)
	}

	fc := p[0]
	if fc&exceptionFlag != 0 {
		if len(p) != 2 {
			return nil, fmt.Errorf("modbus: exception pdu %d bytes: %w", len(p), protocol.ErrMalformedFrame)
		}
		return nil, &ExceptionError{Function: fc &^ exceptionFlag, Code: p[1]}
	}

	switch fc {
	case fcWriteMultipleRegisters:
		switch len(p) {
		case 5: // confirmation: addr, qty
			return protocol.Ack{Command: protocol.Command{Kind: protocol.CommandSetRPM}}, nil
		case 10: // request: addr, qty, byte count, 2 regs
			if p[5] != 4 {
				return nil, fmt.Errorf("modbus: write byte count %d: %w", p[5], protocol.ErrMalformedFrame)
			}
			rpm := float64(int32(binary.BigEndian.Uint32(p[6:])))
			return protocol.Ack{Command: protocol.SetRPM(rpm), HasValue: true}, nil
		}
		return nil, fmt.Errorf("modbus: fc16 pdu %d bytes: %w", len(p), protocol.ErrMalformedFrame)

	case fcReadInputRegisters:
		if len(p) == 5 { // request: addr, qty
			return protocol.Ack{Command: protocol.RequestTelemetry(), HasValue: true}, nil
		}
		n := int(p[1])
		if n != TelemetryRegisters*2 || len(p) != 2+n {
			return nil, fmt.Errorf("modbus: fc4 byte count %d, pdu %d bytes: %w", n, len(p), protocol.ErrMalformedFrame)
		}
		return decodeTelemetry(p[2:]), nil

	default:
		return nil, fmt.Errorf("modbus: function 0x%02x: %w", fc, protocol.ErrUnknownFrameType)
	}
}

func decodeTelemetry(b []byte) protocol.Telemetry {
	return protocol.Telemetry{
		RPM:       float64(int32(binary.BigEndian.Uint32(b[0:]))),
		Voltage:   float64(binary.BigEndian.Uint16(b[4:])) / 10,
		Current:   float64(int16(binary.BigEndian.Uint16(b[6:]))) / 10,
		TempMotor: float64(int16(binary.BigEndian.Uint16(b[8:]))) / 10,
		Fault:     uint8(binary.BigEndian.Uint16(b[10:])),
	}
}

// EncodeTelemetryReply builds the FC4 reply PDU a drive would send.
// Used by simulators and tests.
func EncodeTelemetryReply(t protocol.Telemetry) protocol.Frame {
	p := make([]byte, 2+TelemetryRegisters*2)
	p[0] = fcReadInputRegisters
	p[1] = TelemetryRegisters * 2
	b := p[2:]
	binary.BigEndian.PutUint32(b[0:], uint32(int32(math.Round(t.RPM))))
	binary.BigEndian.PutUint16(b[4:], uint16(math.Round(t.Voltage*10)))
	binary.BigEndian.PutUint16(b[6:], uint16(int16(math.Round(t.Current*10))))
	binary.BigEndian.PutUint16(b[8:], uint16(int16(math.Round(t.TempMotor*10))))
	binary.BigEndian.PutUint16(b[10:], uint16(t.Fault))
	return protocol.Frame{Payload: p, Checksum: Checksum(p)}
}
