package cachemanager

import (
	"errors"
	"fmt"

	"github.com/goforj/cachemanager/cachecore"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLoggerResource is the bootstrap resource consulted when logging is
// requested without explicit sinks.
const DefaultLoggerResource = "log"

// LoggerOptions is the logging subset of frontend options.
type LoggerOptions struct {
	Logging bool
	// Sinks receive every entry; delivery order across sinks is unspecified.
	Sinks []zapcore.Core
}

type loggerOptionFields struct {
	Logging bool `option:"logging"`
	Logger  any  `option:"logger"`
}

// LoggerOptionsFrom extracts LoggerOptions from frontend options. The
// "logger" option may hold a zapcore.Core, a *zap.Logger or a slice of
// either.
func LoggerOptionsFrom(opts Options) (LoggerOptions, error) {
	var fields loggerOptionFields
	if err := cachecore.DecodeKnownOptions("frontend logger", opts, &fields); err != nil {
		return LoggerOptions{}, err
	}
	sinks, err := loggerSinks(fields.Logger)
	if err != nil {
		return LoggerOptions{}, err
	}
	return LoggerOptions{Logging: fields.Logging, Sinks: sinks}, nil
}

func loggerSinks(v any) ([]zapcore.Core, error) {
	switch typed := v.(type) {
	case nil:
		return nil, nil
	case zapcore.Core:
		return []zapcore.Core{typed}, nil
	case *zap.Logger:
		if typed == nil {
			return nil, nil
		}
		return []zapcore.Core{typed.Core()}, nil
	case []zapcore.Core:
		return append([]zapcore.Core(nil), typed...), nil
	case []*zap.Logger:
		out := make([]zapcore.Core, 0, len(typed))
		for _, l := range typed {
			if l != nil {
				out = append(out, l.Core())
			}
		}
		return out, nil
	case []any:
		var out []zapcore.Core
		for _, item := range typed {
			sinks, err := loggerSinks(item)
			if err != nil {
				return nil, err
			}
			out = append(out, sinks...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported logger sink %T", v)
	}
}

// LoggerBinder attaches loggers to frontends that request logging.
type LoggerBinder struct {
	// ResourceName is the bootstrap resource used when no sinks are given.
	ResourceName string
}

// Bind attaches the sinks in opts to frontend, or the bootstrap logger
// resource when opts carries none. It returns a *LoggerBindWarning when no
// logger can be resolved; the frontend keeps working without logging.
func (b LoggerBinder) Bind(frontend Frontend, opts LoggerOptions, bootstrap Bootstrap) error {
	if frontend == nil {
		return &LoggerBindWarning{Err: errors.New("no frontend to bind")}
	}
	if len(opts.Sinks) > 0 {
		frontend.SetLogger(zap.New(zapcore.NewTee(opts.Sinks...)))
		return nil
	}
	logger, err := b.fromBootstrap(bootstrap)
	if err != nil {
		return &LoggerBindWarning{Err: err}
	}
	frontend.SetLogger(logger)
	return nil
}

func (b LoggerBinder) fromBootstrap(bootstrap Bootstrap) (*zap.Logger, error) {
	name := b.ResourceName
	if name == "" {
		name = DefaultLoggerResource
	}
	if bootstrap == nil {
		return nil, fmt.Errorf("no logger sinks and no bootstrap to provide %q", name)
	}
	res, ok := bootstrap.Resource(name)
	if !ok || res == nil {
		return nil, fmt.Errorf("bootstrap has no %q resource", name)
	}
	switch typed := res.(type) {
	case *zap.Logger:
		return typed, nil
	case zapcore.Core:
		return zap.New(typed), nil
	default:
		return nil, fmt.Errorf("bootstrap resource %q is %T, not a logger", name, res)
	}
}
