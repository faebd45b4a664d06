// internal/protocol/types.go

// Package protocol defines the wire-independent command and telemetry
// model shared by codecs, transports and sessions.
package protocol

import (
	"fmt"
	"time"
)

// CommandKind tags a Command.
type CommandKind uint8

const (
	CommandSetRPM CommandKind = iota + 1
	CommandRequestTelemetry
	CommandSetDuty
	CommandSetCurrent
	CommandSetCurrentBrake
)

func (k CommandKind) String() string {
	switch k {
	case CommandSetRPM:
		return "SET_RPM"
	case CommandRequestTelemetry:
		return "REQUEST_TELEMETRY"
	case CommandSetDuty:
		return "SET_DUTY"
	case CommandSetCurrent:
		return "SET_CURRENT"
	case CommandSetCurrentBrake:
		return "SET_CURRENT_BRAKE"
	default:
		return fmt.Sprintf("COMMAND(%d)", uint8(k))
	}
}

// Command is one request to a controller. Value is unused for
// CommandRequestTelemetry.
type Command struct {
	Kind  CommandKind
	Value float64
}

func SetRPM(rpm float64) Command { return Command{Kind: CommandSetRPM, Value: rpm} }
func SetDuty(duty float64) Command { return Command{Kind: CommandSetDuty, Value: duty} }
func SetCurrent(amps float64) Command { return Command{Kind: CommandSetCurrent, Value: amps} }
func SetCurrentBrake(amps float64) Command { return Command{Kind: CommandSetCurrentBrake, Value: amps} }
func RequestTelemetry() Command { return Command{Kind: CommandRequestTelemetry} }

// IsDrive reports whether the command sets a motor output.
func (c Command) IsDrive() bool {
	switch c.Kind {
	case CommandSetRPM, CommandSetDuty, CommandSetCurrent, CommandSetCurrentBrake:
		return true
	}
	return false
}

func (c Command) String() string {
	if c.Kind == CommandRequestTelemetry {
		return c.Kind.String()
	}
	return fmt.Sprintf("%s(%g)", c.Kind, c.Value)
}

// Frame is a raw wire record. It only exists between a codec and a transport.
type Frame struct {
	Payload  []byte
	Checksum uint16
}

// Message is the result of decoding a frame: either Telemetry or Ack.
type Message interface {
	message()
}

// Telemetry is a motor status snapshot. It is immutable once built and
// replaced wholesale on every successful poll.
type Telemetry struct {
	RPM     float64 // mechanical rpm
	Voltage float64 // input voltage, V
	Current float64 // motor current, A

	Duty       float64
	TempFET    float64 // °C
	TempMotor  float64 // °C
	Tachometer int32
	Fault      uint8

	// At is stamped by the session when the frame is received.
	// Codecs leave it zero.
	At time.Time
}

// Ack confirms a command. Decoding an encoded command frame yields an Ack
// carrying the equivalent command; a bare write confirmation carries the
// kind only and HasValue is false.
type Ack struct {
	Command  Command
	HasValue bool
}

func (Telemetry) message() {}
func (Ack) message()       {}

// Codec converts commands to frames and frames to messages.
// Implementations are stateless after construction and safe for
// concurrent use.
type Codec interface {
	Encode(cmd Command, controllerID uint8) (Frame, error)
	Decode(f Frame) (Message, error)
}
