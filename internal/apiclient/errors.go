package apiclient

import (
	"errors"
	"fmt"
)

// TransportError reports a request that never produced a usable answer:
// connection failures, timeouts, bodies that are not the API's JSON.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError carries a server answer whose envelope said ok=false.
// Message is written for end users and safe to surface verbatim.
type RejectedError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UserMessage reduces a client error to the line end users see:
// rejections surface the server's message verbatim, everything else
// reads as a connectivity problem.
func UserMessage(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Message
	}
	return "Could not reach the server"
}
