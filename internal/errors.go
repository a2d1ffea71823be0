package internal

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no live session matches a token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEngineStopped is returned when a command is posted after Run has exited.
	ErrEngineStopped = errors.New("engine stopped")

	// ErrNoTransport is returned when sending without a connected transport.
	ErrNoTransport = errors.New("no transport")
)

// StorageError represents errors accessing the history key-value store
type StorageError struct {
	Key string
	Op  string // "get", "set", "remove", "keys", "open"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// TransportError represents a failed exchange with the peer
type TransportError struct {
	Op    string // "dial", "send", "read"
	Token string
	Err   error
}

func (e *TransportError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport error [%s] %s: %v", e.Token, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigError represents errors loading configuration
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// MockError represents a failed mock caller invocation
type MockError struct {
	Token string
	Err   error
}

func (e *MockError) Error() string {
	return fmt.Sprintf("mock error [%s]: %v", e.Token, e.Err)
}

func (e *MockError) Unwrap() error {
	return e.Err
}
