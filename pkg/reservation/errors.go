package reservation

import (
	"errors"
	"fmt"

	"github.com/corralhq/corral/pkg/availability"
)

// RequestError is a user-facing denial: invalid input or a violated
// policy. Its message is safe to return verbatim at the API boundary.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// Denied builds a RequestError.
func Denied(format string, args ...interface{}) *RequestError {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// Response is the envelope every operation is reduced to at the API
// boundary.
type Response struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Envelope converts an operation outcome into the boundary shape.
// Request, capacity and device-conflict errors surface their message;
// anything else is internal and must not leak.
func Envelope(successMessage string, data interface{}, err error) Response {
	if err == nil {
		return Response{Status: true, Message: successMessage, Data: data}
	}

	var reqErr *RequestError
	var unavailable *availability.Unavailable
	var conflict *availability.DeviceConflict
	if errors.As(err, &reqErr) || errors.As(err, &unavailable) || errors.As(err, &conflict) {
		return Response{Status: false, Message: err.Error()}
	}
	return Response{Status: false, Message: "Internal server error."}
}
