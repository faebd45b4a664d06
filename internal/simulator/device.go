// internal/simulator/device.go

// Package simulator provides in-memory motor controllers that speak the
// VESC or Modbus codec over a transport.Transport. They back the sim://
// address scheme and the tests of the layers above the transport.
package simulator

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tamzrod/motor-fleet/internal/protocol"
	pmodbus "github.com/tamzrod/motor-fleet/internal/protocol/modbus"
	"github.com/tamzrod/motor-fleet/internal/protocol/vesc"
	"github.com/tamzrod/motor-fleet/internal/transport"
)

// ErrInjected is returned by writes failed on purpose.
var ErrInjected = errors.New("simulator: injected write failure")

// DefaultVoltage is the bus voltage a fresh device reports.
const DefaultVoltage = 24.0

// node is the state of one controller on the link.
type node struct {
	state    protocol.Telemetry
	commands []protocol.Command
}

func newNode() *node {
	return &node{state: protocol.Telemetry{Voltage: DefaultVoltage}}
}

// Device is one simulated controller and the host end of its link.
// Speed follows the last RPM setpoint immediately. A VESC device also
// answers for any CAN id a frame is forwarded to, each with its own
// state, and tags those replies with the forward header.
type Device struct {
	decode    func(protocol.Frame) (protocol.Message, error)
	reply     func(protocol.Telemetry) protocol.Frame
	confirm   func(req protocol.Frame) protocol.Frame // nil: no write replies
	forwarded func(protocol.Frame) (uint8, bool)      // nil: no CAN forwarding

	inbound chan protocol.Frame
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	local     *node
	can       map[uint8]*node
	silent    bool
	corrupt   bool
	failNext  int
	writeWait time.Duration

	inFlight atomic.Int32
	overlaps atomic.Int32
}

var (
	_ transport.Transport  = (*Device)(nil)
	_ transport.Confirming = (*Device)(nil)
)

// NewVESC returns a device answering COMM_GET_VALUES. It sends no reply
// to set commands, like the firmware.
func NewVESC(opts vesc.Options) *Device {
	c := vesc.New(opts)
	d := newDevice(c.Decode, c.EncodeValues, nil)
	d.forwarded = vesc.ForwardedID
	return d
}

// NewModbus returns a drive that confirms every register write.
func NewModbus(regs pmodbus.RegisterMap, maxRPM float64) *Device {
	c := pmodbus.New(regs, maxRPM)
	return newDevice(c.Decode, pmodbus.EncodeTelemetryReply, confirmWrite)
}

// confirmWrite echoes function, address and quantity of an FC16 request.
func confirmWrite(req protocol.Frame) protocol.Frame {
	p := append([]byte(nil), req.Payload[:5]...)
	return protocol.Frame{Payload: p, Checksum: pmodbus.Checksum(p)}
}

func newDevice(
	decode func(protocol.Frame) (protocol.Message, error),
	reply func(protocol.Telemetry) protocol.Frame,
	confirm func(protocol.Frame) protocol.Frame,
) *Device {
	return &Device{
		decode:  decode,
		reply:   reply,
		confirm: confirm,
		inbound: make(chan protocol.Frame, 8),
		done:    make(chan struct{}),
		local:   newNode(),
		can:     make(map[uint8]*node),
	}
}

// ---- fault injection ----

// SetSilent stops (or resumes) all replies.
func (d *Device) SetSilent(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = v
}

// SetCorrupt flips a checksum bit on every reply.
func (d *Device) SetCorrupt(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt = v
}

// FailWrites makes the next n writes return ErrInjected.
func (d *Device) FailWrites(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// SetWriteDelay stretches every write, widening the window in which
// overlapping writers would be detected.
func (d *Device) SetWriteDelay(w time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeWait = w
}

// SetTelemetry overrides the reported state; RPM is still driven by
// SetRPM commands.
func (d *Device) SetTelemetry(t protocol.Telemetry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local.state = t
}

// SetCANTelemetry overrides the state reported by CAN id.
func (d *Device) SetCANTelemetry(id uint8, t protocol.Telemetry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canNode(id).state = t
}

func (d *Device) canNode(id uint8) *node {
	n, ok := d.can[id]
	if !ok {
		n = newNode()
		d.can[id] = n
	}
	return n
}

// ---- inspection ----

// Commands returns the drive commands received so far.
func (d *Device) Commands() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Command(nil), d.local.commands...)
}

// LastCommand returns the most recent drive command.
func (d *Device) LastCommand() (protocol.Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return last(d.local.commands)
}

// CANCommands returns the drive commands forwarded to CAN id.
func (d *Device) CANCommands(id uint8) []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.can[id]; ok {
		return append([]protocol.Command(nil), n.commands...)
	}
	return nil
}

// CANLastCommand returns the most recent drive command forwarded to id.
func (d *Device) CANLastCommand(id uint8) (protocol.Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.can[id]; ok {
		return last(n.commands)
	}
	return protocol.Command{}, false
}

func last(cmds []protocol.Command) (protocol.Command, bool) {
	if len(cmds) == 0 {
		return protocol.Command{}, false
	}
	return cmds[len(cmds)-1], true
}

// Overlaps counts writes that started while another was in progress.
func (d *Device) Overlaps() int {
	return int(d.overlaps.Load())
}

// ---- transport.Transport ----

// ConfirmsWrites is true for Modbus drives.
func (d *Device) ConfirmsWrites() bool { return d.confirm != nil }

func (d *Device) WriteFrame(f protocol.Frame) error {
	select {
	case <-d.done:
		return transport.ErrClosed
	default:
	}

	if d.inFlight.Add(1) > 1 {
		d.overlaps.Add(1)
	}
	defer d.inFlight.Add(-1)

	d.mu.Lock()
	wait := d.writeWait
	if d.failNext > 0 {
		d.failNext--
		d.mu.Unlock()
		return ErrInjected
	}
	d.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	msg, err := d.decode(f)
	if err != nil {
		return nil // garbage on the line is ignored by the firmware
	}
	ack, ok := msg.(protocol.Ack)
	if !ok {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.local
	canID, fwd := uint8(0), false
	if d.forwarded != nil {
		canID, fwd = d.forwarded(f)
	}
	if fwd {
		n = d.canNode(canID)
	}

	var out protocol.Frame
	switch {
	case ack.Command.Kind == protocol.CommandRequestTelemetry:
		n.state.Tachometer++
		out = d.reply(n.state)
	case ack.Command.IsDrive():
		n.commands = append(n.commands, ack.Command)
		n.apply(ack.Command)
		if d.confirm == nil {
			return nil
		}
		out = d.confirm(f)
	default:
		return nil
	}
	if fwd {
		out = vesc.Forward(out, canID)
	}

	if d.silent {
		return nil
	}
	if d.corrupt {
		out.Checksum ^= 0x0001
	}
	d.push(out)
	return nil
}

func (n *node) apply(cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.CommandSetRPM:
		n.state.RPM = cmd.Value
	case protocol.CommandSetDuty:
		n.state.Duty = cmd.Value
	case protocol.CommandSetCurrent:
		n.state.Current = cmd.Value
	case protocol.CommandSetCurrentBrake:
		n.state.Current = -cmd.Value
		n.state.RPM = 0
	}
}

// push queues a reply, dropping the oldest if the host stopped reading.
func (d *Device) push(f protocol.Frame) {
	for {
		select {
		case d.inbound <- f:
			return
		default:
		}
		select {
		case <-d.inbound:
		default:
		}
	}
}

func (d *Device) ReadFrame(timeout time.Duration) (protocol.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-d.inbound:
		return f, nil
	case <-d.done:
		return protocol.Frame{}, transport.ErrClosed
	case <-timer.C:
		return protocol.Frame{}, transport.ErrTimeout
	}
}

func (d *Device) Flush() error {
	for {
		select {
		case <-d.inbound:
		default:
			return nil
		}
	}
}

func (d *Device) Close() error {
	d.once.Do(func() { close(d.done) })
	return nil
}

// Closed reports whether the host closed the link.
func (d *Device) Closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}
