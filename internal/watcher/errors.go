package watcher

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("watcher not found")

// ConfigError reports an invalid watcher definition. Nothing is persisted or
// scheduled for a definition that fails validation.
type ConfigError struct {
	Field   string
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid watcher: " + e.Message
	}
	return fmt.Sprintf("invalid watcher: %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a store I/O failure.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("watcher store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("watcher store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// CheckerError is a transient per-watcher check failure.
type CheckerError struct {
	WatcherID string
	Kind      KindType
	Err       error
}

func (e *CheckerError) Error() string {
	return fmt.Sprintf("check %s (%s): %v", e.WatcherID, e.Kind, e.Err)
}

func (e *CheckerError) Unwrap() error {
	return e.Err
}

// SinkError reports a failed event delivery.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
