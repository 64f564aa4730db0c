package mcphub

import (
	"errors"
	"fmt"
)

// Sentinel errors checked with errors.Is throughout the proxy. JSON-RPC
// error codes are derived from these at the HTTP boundary (pkg/router),
// never embedded in the domain packages themselves.
var (
	// ErrNotFound means a capability key (tool, resource URI, or prompt
	// name) is not present in the current routing table.
	ErrNotFound = errors.New("mcphub: capability not found")
	// ErrInvalidConfig means a compose file or environment configuration
	// could not be parsed into a valid backend set.
	ErrInvalidConfig = errors.New("mcphub: invalid configuration")
	// ErrTimeout means a per-request deadline elapsed before a backend
	// responded.
	ErrTimeout = errors.New("mcphub: deadline exceeded")
	// ErrTransport means the backend connection failed below the
	// application layer (connection refused, reset, DNS failure) and is
	// eligible for a single retry.
	ErrTransport = errors.New("mcphub: transport failure")
	// ErrProtocol means the backend returned a response that is not valid
	// JSON-RPC, or otherwise violated the wire contract.
	ErrProtocol = errors.New("mcphub: protocol violation")
	// ErrApplication wraps a well-formed JSON-RPC error returned by a
	// backend; it is forwarded to the client unchanged.
	ErrApplication = errors.New("mcphub: application error")
	// ErrBackendRemoved means an operation targeted a backend that has
	// since been removed from the registry.
	ErrBackendRemoved = errors.New("mcphub: backend removed")
	// ErrAlreadyProbing means a health probe was requested for a backend
	// that already has one in flight.
	ErrAlreadyProbing = errors.New("mcphub: probe already in flight")
)

// ApplicationError wraps a JSON-RPC error object returned verbatim by a
// backend so that callers can recover Code/Message/Data for forwarding
// without re-parsing the wire payload.
type ApplicationError struct {
	Code    int
	Message string
	Data    any
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("mcphub: application error %d: %s", e.Code, e.Message)
}

func (e *ApplicationError) Unwrap() error { return ErrApplication }

// NewApplicationError builds an ApplicationError, the only constructor
// that should be used so the Unwrap chain stays intact.
func NewApplicationError(code int, message string, data any) *ApplicationError {
	return &ApplicationError{Code: code, Message: message, Data: data}
}
