package authgateway

import (
	"fmt"
	"net/http"
)

// Gateway error codes as constants
const (
	ErrorCodeValidationError      = "validation_error"
	ErrorCodeAuthorizationError   = "authorization_error"
	ErrorCodeConfigurationError   = "configuration_error"
	ErrorCodeUnsupportedOperation = "unsupported_operation"
	ErrorCodeServerError          = "server_error"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// GatewayError represents a structured gateway error response. Field is set
// for validation errors that concern a specific request field or parameter.
type GatewayError struct {
	Code        string // Gateway error code (e.g., "validation_error")
	Field       string // Offending field or parameter, when applicable
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewGatewayError creates a new gateway error
func NewGatewayError(code, description string, status int) *GatewayError {
	return &GatewayError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common gateway errors as reusable constructors
var (
	// ErrValidation indicates an invalid, expired, or already-consumed token,
	// or a missing required field. field names the offending parameter.
	ErrValidation = func(field, desc string) *GatewayError {
		return &GatewayError{
			Code:        ErrorCodeValidationError,
			Field:       field,
			Description: desc,
			Status:      http.StatusBadRequest,
		}
	}

	// ErrAuthorization indicates missing or invalid machine credentials
	ErrAuthorization = func(desc string, status int) *GatewayError {
		return NewGatewayError(ErrorCodeAuthorizationError, desc, status)
	}

	// ErrConfiguration indicates a deployment misconfiguration. Not
	// user-recoverable; surfaced as a 500-class response.
	ErrConfiguration = func(desc string) *GatewayError {
		return NewGatewayError(ErrorCodeConfigurationError, desc, http.StatusInternalServerError)
	}

	// ErrUnsupportedOperation indicates an unrecognized grant type reached
	// the destination mapper. Fatal for the request; no fallback.
	ErrUnsupportedOperation = func(desc string) *GatewayError {
		return NewGatewayError(ErrorCodeUnsupportedOperation, desc, http.StatusInternalServerError)
	}

	// ErrServer indicates an internal server error occurred
	ErrServer = func(desc string) *GatewayError {
		return NewGatewayError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
