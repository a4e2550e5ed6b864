// Package errors defines the error taxonomy shared across the hub.
//
// Every failure carries the server name and the phase it occurred in so
// that callers can decide whether a retry makes sense. Nothing in the hub
// retries silently.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrConfig is returned when a server configuration is malformed or duplicated
	ErrConfig = "config"

	// ErrAvailability is returned when required environment variables are missing
	ErrAvailability = "availability"

	// ErrLaunch is returned when the backend process or container failed to come up
	ErrLaunch = "launch"

	// ErrHealthCheckTimeout is returned when the health check did not pass in time
	ErrHealthCheckTimeout = "health_check_timeout"

	// ErrDiscovery is returned when the backend came up but tool enumeration failed
	ErrDiscovery = "discovery"

	// ErrNameCollision is returned when two active backends export the same tool name
	ErrNameCollision = "name_collision"

	// ErrTransport is returned on a mid-call protocol or connection failure
	ErrTransport = "transport"

	// ErrCallTimeout is returned when a tool call exceeded the caller's timeout
	ErrCallTimeout = "call_timeout"

	// ErrToolNotFound is returned when a tool is not present in the aggregated table
	ErrToolNotFound = "tool_not_found"

	// ErrToolNotVisible is returned when a known tool is disabled by the visibility filter
	ErrToolNotVisible = "tool_not_visible"

	// ErrServerNotActive is returned when a call targets a server that is not ACTIVE
	ErrServerNotActive = "server_not_active"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the hub.
type Error struct {
	// Type is the error type
	Type string

	// Server is the name of the backend server involved, if any
	Server string

	// Phase is the lifecycle phase the error occurred in (e.g. "start", "discovery", "call")
	Phase string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	prefix := e.Type
	if e.Server != "" {
		prefix = fmt.Sprintf("%s [server=%s]", prefix, e.Server)
	}
	if e.Phase != "" {
		prefix = fmt.Sprintf("%s [phase=%s]", prefix, e.Phase)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error.
func NewError(errorType, server, phase, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Server:  server,
		Phase:   phase,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, cause error) *Error {
	return NewError(ErrConfig, "", "register", message, cause)
}

// NewAvailabilityError creates a new availability error for a server.
func NewAvailabilityError(server, message string) *Error {
	return NewError(ErrAvailability, server, "preflight", message, nil)
}

// NewLaunchError creates a new launch error for a server.
func NewLaunchError(server, message string, cause error) *Error {
	return NewError(ErrLaunch, server, "start", message, cause)
}

// NewHealthCheckTimeoutError creates a new health check timeout error for a server.
func NewHealthCheckTimeoutError(server, message string, cause error) *Error {
	return NewError(ErrHealthCheckTimeout, server, "health_check", message, cause)
}

// NewDiscoveryError creates a new discovery error for a server.
func NewDiscoveryError(server, message string, cause error) *Error {
	return NewError(ErrDiscovery, server, "discovery", message, cause)
}

// NewNameCollisionError creates a new tool name collision error.
func NewNameCollisionError(server, message string) *Error {
	return NewError(ErrNameCollision, server, "refresh", message, nil)
}

// NewTransportError creates a new transport error for a server.
func NewTransportError(server, message string, cause error) *Error {
	return NewError(ErrTransport, server, "call", message, cause)
}

// NewCallTimeoutError creates a new call timeout error for a server.
func NewCallTimeoutError(server, message string, cause error) *Error {
	return NewError(ErrCallTimeout, server, "call", message, cause)
}

// NewToolNotFoundError creates a new tool not found error.
func NewToolNotFoundError(message string) *Error {
	return NewError(ErrToolNotFound, "", "route", message, nil)
}

// NewToolNotVisibleError creates a new tool not visible error.
func NewToolNotVisibleError(message string) *Error {
	return NewError(ErrToolNotVisible, "", "route", message, nil)
}

// NewServerNotActiveError creates a new server not active error.
func NewServerNotActiveError(server, message string) *Error {
	return NewError(ErrServerNotActive, server, "route", message, nil)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, "", "", message, cause)
}

func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsConfig checks if the error is a configuration error.
func IsConfig(err error) bool { return isType(err, ErrConfig) }

// IsAvailability checks if the error is an availability error.
func IsAvailability(err error) bool { return isType(err, ErrAvailability) }

// IsLaunch checks if the error is a launch error.
func IsLaunch(err error) bool { return isType(err, ErrLaunch) }

// IsHealthCheckTimeout checks if the error is a health check timeout error.
func IsHealthCheckTimeout(err error) bool { return isType(err, ErrHealthCheckTimeout) }

// IsDiscovery checks if the error is a discovery error.
func IsDiscovery(err error) bool { return isType(err, ErrDiscovery) }

// IsNameCollision checks if the error is a name collision error.
func IsNameCollision(err error) bool { return isType(err, ErrNameCollision) }

// IsTransport checks if the error is a transport error.
func IsTransport(err error) bool { return isType(err, ErrTransport) }

// IsCallTimeout checks if the error is a call timeout error.
func IsCallTimeout(err error) bool { return isType(err, ErrCallTimeout) }

// IsToolNotFound checks if the error is a tool not found error.
func IsToolNotFound(err error) bool { return isType(err, ErrToolNotFound) }

// IsToolNotVisible checks if the error is a tool not visible error.
func IsToolNotVisible(err error) bool { return isType(err, ErrToolNotVisible) }

// IsServerNotActive checks if the error is a server not active error.
func IsServerNotActive(err error) bool { return isType(err, ErrServerNotActive) }

// IsInternal checks if the error is an internal error.
func IsInternal(err error) bool { return isType(err, ErrInternal) }
