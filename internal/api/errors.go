// internal/api/errors.go
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tamzrod/motor-fleet/internal/fleet"
	"github.com/tamzrod/motor-fleet/internal/protocol"
	"github.com/tamzrod/motor-fleet/internal/session"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(status int, code, message string, cause error) *APIError {
	err := &APIError{Status: status, Code: code, Message: message}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

func NewBadRequestError(message string, cause error) *APIError {
	return newError(http.StatusBadRequest, "BAD_REQUEST", message, cause)
}

func NewNotFoundError(resource, id string) *APIError {
	return newError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id), nil)
}

// motorError maps fleet and session errors onto HTTP statuses.
func motorError(name string, err error) *APIError {
	switch {
	case errors.Is(err, fleet.ErrNotFound):
		return NewNotFoundError("motor", name)
	case errors.Is(err, fleet.ErrShutdown):
		return newError(http.StatusServiceUnavailable, "SHUTTING_DOWN", "fleet is shutting down", nil)
	case errors.Is(err, protocol.ErrOutOfRange):
		return newError(http.StatusBadRequest, "OUT_OF_RANGE", "value out of range", err)
	case errors.Is(err, protocol.ErrUnsupportedCommand):
		return newError(http.StatusBadRequest, "UNSUPPORTED", "command not supported by this controller", err)
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrFaulted):
		return newError(http.StatusConflict, "NOT_CONNECTED", fmt.Sprintf("motor %s is not connected", name), err)
	case errors.Is(err, session.ErrBusy):
		return newError(http.StatusConflict, "BUSY", fmt.Sprintf("motor %s is connected", name), err)
	case errors.Is(err, session.ErrConnect), errors.Is(err, session.ErrCommandFailed):
		return newError(http.StatusBadGateway, "DEVICE_ERROR", fmt.Sprintf("motor %s did not respond", name), err)
	default:
		return newError(http.StatusInternalServerError, "INTERNAL_ERROR", "unexpected error", err)
	}
}

// ErrorHandler renders every error returned by a handler as an APIError.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = newError(http.StatusInternalServerError, "UNKNOWN_ERROR", "an unexpected error occurred", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(apiErr.Status)
		return
	}
	_ = c.JSON(apiErr.Status, apiErr)
}
