package client

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by calls on a client after Close.
var ErrClosed = errors.New("policy client closed")

// ErrNotConnected is returned by GetAction after a transport failure until
// Reconnect succeeds.
var ErrNotConnected = errors.New("policy connection is broken")

// ConnectionError is returned when the policy service cannot be reached.
// It is fatal at startup.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to policy service %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransportError is returned when a round trip fails mid-flight: write
// failure, read failure, peer disconnect or a truncated response.
type TransportError struct {
	// Op is "send" or "receive".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("policy %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsTransportError reports whether err is a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
