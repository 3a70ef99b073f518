package cachemanager

import (
	"errors"

	"github.com/goforj/cachemanager/cachecore"
)

var (
	ErrConfig              = cachecore.ErrConfig
	ErrBackendUnavailable  = cachecore.ErrBackendUnavailable
	ErrUnknownTemplate     = cachecore.ErrUnknownTemplate
	ErrLoggerBind          = cachecore.ErrLoggerBind
	ErrInvalidCleaningMode = cachecore.ErrInvalidCleaningMode

	ErrInvalidID             = errors.New("cache: invalid cache id or tag")
	ErrWriteControl          = errors.New("cache: write control failed")
	ErrSerializationDisabled = errors.New("cache: automatic serialization is disabled")
)

type (
	ConfigError             = cachecore.ConfigError
	BackendUnavailableError = cachecore.BackendUnavailableError
	UnknownTemplateError    = cachecore.UnknownTemplateError
	LoggerBindWarning       = cachecore.LoggerBindWarning
)
