// Package logging builds the service's zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger flavor. Service and Version are attached to
// every entry so records from several sourcer replicas can be told apart.
type Options struct {
	Development bool
	// Level is a zap level name; empty means debug in development and info
	// otherwise.
	Level   string
	Service string
	Version string
}

// New builds a colored console logger for development or a sampled JSON
// logger for production.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("logging level %q: %w", opts.Level, err)
		}
		cfg.Level = level
	}
	cfg.InitialFields = initialFields(opts)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func initialFields(opts Options) map[string]any {
	fields := map[string]any{}
	if opts.Service != "" {
		fields["service"] = opts.Service
	}
	if opts.Version != "" {
		fields["version"] = opts.Version
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
