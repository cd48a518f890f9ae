package app

import (
	"fmt"
	"net/http"
)

// DomainError is a rejection the client is meant to read. Status picks
// the HTTP code; Code and Message land in the response envelope, so
// Message must be text a user can act on.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// validationError rejects input with 422. The message is shown verbatim
// next to the offending field, so it carries no internal detail.
func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func forbiddenError(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func conflictError(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

// unavailableError reports an optional backend that is not configured
// or not reachable, keeping its own code so clients can tell which one.
func unavailableError(code, message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, code, message, nil)
}
