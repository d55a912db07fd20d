// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mtconnect-agent/backend/internal/agent"
)

// Error codes reported in APIError.Code
const (
	CodeNoDevice       = "NO_DEVICE"
	CodeOutOfRange     = "OUT_OF_RANGE"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeAssetNotFound  = "ASSET_NOT_FOUND"
	CodeUnsupported    = "UNSUPPORTED"
	CodeInternalError  = "INTERNAL_ERROR"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-" msgpack:"-" cbor:"-"`
	Code    string `json:"code" msgpack:"code" cbor:"code"`
	Message string `json:"message" msgpack:"message" cbor:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty" cbor:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequestError creates a 400 error for a malformed request
func NewInvalidRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeInvalidRequest,
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewNoDeviceError creates a 404 error for an unknown device
func NewNoDeviceError(device string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    CodeNoDevice,
		Message: fmt.Sprintf("device not found: %s", device),
	}
}

// NewOutOfRangeError creates a 400 error for a sequence outside the buffer
func NewOutOfRangeError(message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeOutOfRange,
		Message: message,
	}
}

// NewAssetNotFoundError creates a 404 error for an unknown asset
func NewAssetNotFoundError(id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    CodeAssetNotFound,
		Message: fmt.Sprintf("asset not found: %s", id),
	}
}

// NewUnsupportedError creates a 501 error for a disabled feature
func NewUnsupportedError(message string) *APIError {
	return &APIError{
		Status:  http.StatusNotImplemented,
		Code:    CodeUnsupported,
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternalError,
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// fromAgentError maps agent sentinel errors onto API errors
func fromAgentError(err error) *APIError {
	switch {
	case errors.Is(err, agent.ErrUnknownDevice):
		return &APIError{Status: http.StatusNotFound, Code: CodeNoDevice, Message: err.Error()}
	case errors.Is(err, agent.ErrUnknownDataItem):
		return NewInvalidRequestError(err.Error(), nil)
	case errors.Is(err, agent.ErrUnknownAsset):
		return &APIError{Status: http.StatusNotFound, Code: CodeAssetNotFound, Message: err.Error()}
	}
	return NewInternalError("request failed", err)
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError

	switch e := err.(type) {
	case *APIError:
		apiErr = e
	case *echo.HTTPError:
		code := CodeInvalidRequest
		if e.Code >= http.StatusInternalServerError {
			code = CodeInternalError
		}
		apiErr = &APIError{
			Status:  e.Code,
			Code:    code,
			Message: fmt.Sprintf("%v", e.Message),
		}
	default:
		apiErr = NewInternalError("An unexpected error occurred", err)
	}

	respond(c, apiErr.Status, apiErr)
}
