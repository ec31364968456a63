// services/install/internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// Business errors.
var (
	// Installation errors.
	ErrDuplicateInstallation = errors.New("installation already completed")

	// Client group errors.
	ErrGroupNotResolved = errors.New("client group could not be resolved")

	// SIM errors.
	ErrInvalidIccid = errors.New("iccid format not recognized")
	ErrSimNotFound  = errors.New("sim not found on any instance")

	// Session errors.
	ErrUnknownStep = errors.New("unknown workflow step")
)

// BusinessError represents a business logic error with a code.
type BusinessError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBusinessError creates a BusinessError with the given code and message.
func NewBusinessError(code, format string, args ...interface{}) BusinessError {
	return BusinessError{Code: code, Message: fmt.Sprintf(format, args...)}
}
