// internal/api/handlers.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tamzrod/motor-fleet/internal/protocol"
	"github.com/tamzrod/motor-fleet/internal/session"
)

const mimeMsgpack = "application/msgpack"

type handlers struct {
	fleet Fleet
}

type motorStatus struct {
	Name                string     `json:"name"`
	Enabled             bool       `json:"enabled"`
	State               string     `json:"state"`
	ConnectionID        string     `json:"connection_id,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCommandAt       *time.Time `json:"last_command_at,omitempty"`
	LastTelemetryAt     *time.Time `json:"last_telemetry_at,omitempty"`
}

type telemetry struct {
	RPM        float64   `json:"rpm" msgpack:"rpm"`
	Voltage    float64   `json:"voltage" msgpack:"voltage"`
	Current    float64   `json:"current" msgpack:"current"`
	Duty       float64   `json:"duty" msgpack:"duty"`
	TempFET    float64   `json:"temp_fet" msgpack:"temp_fet"`
	TempMotor  float64   `json:"temp_motor" msgpack:"temp_motor"`
	Tachometer int32     `json:"tachometer" msgpack:"tachometer"`
	Fault      uint8     `json:"fault" msgpack:"fault"`
	At         time.Time `json:"at" msgpack:"at"`
}

type motorDetail struct {
	motorStatus
	Telemetry *telemetry `json:"telemetry,omitempty"`
}

type rpmRequest struct {
	RPM *float64 `json:"rpm"`
}

func toStatus(s session.Snapshot) motorStatus {
	out := motorStatus{
		Name:                s.Name,
		Enabled:             s.Enabled,
		State:               s.State.String(),
		ConnectionID:        s.ConnectionID,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastCommandAt:       timePtr(s.LastCommandAt),
		LastTelemetryAt:     timePtr(s.LastTelemetryAt),
	}
	if s.LastError != nil {
		out.LastError = s.LastError.Error()
	}
	return out
}

func toTelemetry(t protocol.Telemetry) *telemetry {
	return &telemetry{
		RPM:        t.RPM,
		Voltage:    t.Voltage,
		Current:    t.Current,
		Duty:       t.Duty,
		TempFET:    t.TempFET,
		TempMotor:  t.TempMotor,
		Tachometer: t.Tachometer,
		Fault:      t.Fault,
		At:         t.At,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (h *handlers) health(c echo.Context) error {
	total, connected := 0, 0
	for _, s := range h.fleet.Status() {
		total++
		if s.State == session.StateConnected {
			connected++
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"motors":    total,
		"connected": connected,
	})
}

func (h *handlers) listMotors(c echo.Context) error {
	snaps := h.fleet.Status()
	out := make([]motorStatus, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toStatus(s))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) getMotor(c echo.Context) error {
	name := c.Param("name")
	m, err := h.fleet.Motor(name)
	if err != nil {
		return motorError(name, err)
	}

	out := motorDetail{motorStatus: toStatus(m.Snapshot())}
	if t, ok := m.RPM(); ok {
		out.Telemetry = toTelemetry(t)
	}
	return c.JSON(http.StatusOK, out)
}

// getTelemetry serves the cached telemetry. It never touches the wire.
func (h *handlers) getTelemetry(c echo.Context) error {
	name := c.Param("name")
	m, err := h.fleet.Motor(name)
	if err != nil {
		return motorError(name, err)
	}

	t, ok := m.RPM()
	if !ok {
		return newError(http.StatusServiceUnavailable, "NO_TELEMETRY", "no telemetry received yet", nil)
	}

	if wantsMsgpack(c) {
		data, err := msgpack.Marshal(toTelemetry(t))
		if err != nil {
			return newError(http.StatusInternalServerError, "INTERNAL_ERROR", "failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, mimeMsgpack, data)
	}
	return c.JSON(http.StatusOK, toTelemetry(t))
}

func wantsMsgpack(c echo.Context) bool {
	if c.QueryParam("format") == "msgpack" {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), mimeMsgpack)
}

func (h *handlers) setRPM(c echo.Context) error {
	name := c.Param("name")

	var req rpmRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid body", err)
	}
	if req.RPM == nil {
		return NewBadRequestError("rpm is required", nil)
	}

	m, err := h.fleet.Motor(name)
	if err != nil {
		return motorError(name, err)
	}
	if err := m.SetRPM(c.Request().Context(), *req.RPM); err != nil {
		return motorError(name, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) reset(c echo.Context) error {
	name := c.Param("name")
	if err := h.fleet.Reset(c.Request().Context(), name); err != nil {
		return motorError(name, err)
	}

	m, err := h.fleet.Motor(name)
	if err != nil {
		return motorError(name, err)
	}
	return c.JSON(http.StatusOK, toStatus(m.Snapshot()))
}
