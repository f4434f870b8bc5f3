package mcp

import (
	"errors"
	"fmt"
)

// ConnectError means a channel to a server could not be established.
type ConnectError struct {
	Server string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mcp server %s: connect failed: %v", e.Server, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError means a response had an unexpected or malformed shape.
type ProtocolError struct {
	Server string
	Msg    string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mcp server %s: protocol error: %s: %v", e.Server, e.Msg, e.Err)
	}
	return fmt.Sprintf("mcp server %s: protocol error: %s", e.Server, e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError is an application-level failure reported by the server.
// It is never retried automatically.
type RemoteError struct {
	Server  string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("mcp server %s: remote error %d: %s", e.Server, e.Code, e.Message)
	}
	return fmt.Sprintf("mcp server %s: remote error: %s", e.Server, e.Message)
}

// TimeoutError means a call exceeded its deadline.
type TimeoutError struct {
	Server string
	Tool   string
	Err    error
}

func (e *TimeoutError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("mcp server %s: tool %s timed out", e.Server, e.Tool)
	}
	return fmt.Sprintf("mcp server %s: call timed out", e.Server)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ServiceError means the registry as a whole has no usable servers.
type ServiceError struct {
	Msg string
}

func (e *ServiceError) Error() string {
	return "mcp registry: " + e.Msg
}

// ErrServerNotFound is returned for lookups of unregistered server names.
var ErrServerNotFound = errors.New("mcp server not found")

// ErrSessionClosed is returned for calls against a session that exhausted
// its reconnect attempts and requires operator intervention.
var ErrSessionClosed = errors.New("mcp session closed")

// IsRemoteError reports whether err carries a server-reported tool failure.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// IsTimeout reports whether err is a call deadline expiry.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
