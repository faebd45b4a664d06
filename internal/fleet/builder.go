// internal/fleet/builder.go
package fleet

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/tamzrod/motor-fleet/internal/config"
	"github.com/tamzrod/motor-fleet/internal/protocol"
	pmodbus "github.com/tamzrod/motor-fleet/internal/protocol/modbus"
	"github.com/tamzrod/motor-fleet/internal/protocol/vesc"
	"github.com/tamzrod/motor-fleet/internal/session"
	"github.com/tamzrod/motor-fleet/internal/simulator"
	"github.com/tamzrod/motor-fleet/internal/transport"
	tmodbus "github.com/tamzrod/motor-fleet/internal/transport/modbus"
)

// SchemeSim selects an in-memory simulated controller.
const SchemeSim = "sim"

// DialFunc opens the transport for one motor. ONE attempt per call;
// the session owns retries.
type DialFunc func(ctx context.Context, m config.MotorConfig) (transport.Transport, error)

// Build constructs the session for one normalized motor entry.
// Nothing is dialed here.
func Build(m config.MotorConfig, dial DialFunc, log *zap.Logger) (*session.Session, error) {
	codec, err := NewCodec(m)
	if err != nil {
		return nil, err
	}

	dialer := func(ctx context.Context) (transport.Transport, error) {
		return dial(ctx, m)
	}

	return session.New(SessionConfig(m), codec, dialer, log), nil
}

// SessionConfig maps a motor entry onto session policy.
func SessionConfig(m config.MotorConfig) session.Config {
	return session.Config{
		Name:         m.Name,
		ControllerID: m.ControllerID,
		Enabled:      m.IsEnabled(),
		PollInterval: m.PollInterval(),
		Timeout:      m.Timeout(),
		KeepAlive:    m.KeepAlive(),
		Retry: session.RetryPolicy{
			MaxAttempts:    m.Retry.MaxAttempts,
			InitialBackoff: m.Retry.InitialBackoff(),
			MaxBackoff:     m.Retry.MaxBackoff(),
			Multiplier:     m.Retry.Multiplier,
		},
		MaxConsecutiveFailures: m.MaxConsecutiveFailures,
		MaxRPMAcceleration:     m.MaxRPMAcceleration,
		MinRPM:                 m.MinRPM,
		StartupRPM:             m.StartupRPM,
	}
}

// NewCodec picks the codec for the motor's protocol.
func NewCodec(m config.MotorConfig) (protocol.Codec, error) {
	switch m.Protocol {
	case "", config.ProtocolVESC:
		return vesc.New(vescOptions(m)), nil
	case config.ProtocolModbus:
		return pmodbus.New(registerMap(m), m.MaxRPM), nil
	default:
		return nil, fmt.Errorf("fleet: motor %q: unknown protocol %q", m.Name, m.Protocol)
	}
}

func vescOptions(m config.MotorConfig) vesc.Options {
	return vesc.Options{
		MaxRPM:     m.MaxRPM,
		PolePairs:  m.PolePairs,
		ForwardCAN: m.ForwardCAN,
	}
}

func registerMap(m config.MotorConfig) pmodbus.RegisterMap {
	if m.Modbus == nil {
		return pmodbus.RegisterMap{}
	}
	return pmodbus.RegisterMap{
		Setpoint:  m.Modbus.SetpointRegister,
		Telemetry: m.Modbus.TelemetryRegister,
	}
}

// DialTransport dispatches on the address scheme:
//
//	serial://, tcp://        VESC UART framing over a byte stream
//	rtu://, modbus-tcp://    Modbus request/response (slave id = controller_id)
//	sim://                   simulated controller for the motor's protocol
func DialTransport(log *zap.Logger) DialFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, m config.MotorConfig) (transport.Transport, error) {
		u, err := url.Parse(m.Address)
		if err != nil {
			return nil, fmt.Errorf("fleet: motor %q: parse address: %w", m.Name, err)
		}
		l := log.With(zap.String("motor", m.Name))

		switch u.Scheme {
		case transport.SchemeSerial, transport.SchemeTCP:
			return transport.Dial(ctx, m.Address, m.Timeout(), l)

		case tmodbus.SchemeRTU, tmodbus.SchemeTCP:
			return tmodbus.Open(tmodbus.Config{
				Address: m.Address,
				SlaveID: m.ControllerID,
				Timeout: m.Timeout(),
			}, l)

		case SchemeSim:
			if m.Protocol == config.ProtocolModbus {
				return simulator.NewModbus(registerMap(m), m.MaxRPM), nil
			}
			return simulator.NewVESC(vescOptions(m)), nil

		default:
			return nil, fmt.Errorf("fleet: motor %q: unsupported address scheme %q", m.Name, u.Scheme)
		}
	}
}
