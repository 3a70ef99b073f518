package cachecore

import (
	"errors"
	"fmt"
)

var (
	ErrConfig              = errors.New("cache: invalid configuration")
	ErrBackendUnavailable  = errors.New("cache: backend unavailable")
	ErrUnknownTemplate     = errors.New("cache: unknown cache template")
	ErrLoggerBind          = errors.New("cache: logger binding failed")
	ErrInvalidCleaningMode = errors.New("cache: invalid cleaning mode")
)

// ConfigError reports malformed or contradictory options. It is raised
// before any backend state is created.
type ConfigError struct {
	// Component names what was being configured, e.g. `backend "File"`.
	Component string
	Err       error
}

func (e *ConfigError) Error() string {
	msg := ErrConfig.Error()
	if e.Component != "" {
		msg += " for " + e.Component
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// NewConfigError builds a ConfigError with a formatted cause.
func NewConfigError(component, format string, args ...any) *ConfigError {
	return &ConfigError{Component: component, Err: fmt.Errorf(format, args...)}
}

// BackendUnavailableError reports a backend whose implementation or runtime
// dependency (server, extension, endpoint) cannot be reached.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	msg := fmt.Sprintf("%s: %q", ErrBackendUnavailable.Error(), e.Backend)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

func (e *BackendUnavailableError) Is(target error) bool { return target == ErrBackendUnavailable }

// UnknownTemplateError reports a cache name with neither a template nor options.
type UnknownTemplateError struct {
	Name string
}

func (e *UnknownTemplateError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownTemplate.Error(), e.Name)
}

func (e *UnknownTemplateError) Is(target error) bool { return target == ErrUnknownTemplate }

// LoggerBindWarning is a non-fatal diagnostic: the cache was built but
// logging could not be attached.
type LoggerBindWarning struct {
	Err error
}

func (e *LoggerBindWarning) Error() string {
	if e.Err == nil {
		return ErrLoggerBind.Error()
	}
	return ErrLoggerBind.Error() + ": " + e.Err.Error()
}

func (e *LoggerBindWarning) Unwrap() error { return e.Err }

func (e *LoggerBindWarning) Is(target error) bool { return target == ErrLoggerBind }
