package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"

	serviceName = "fleet-hub"
)

// NewLogger builds the process logger. Every entry carries the service name.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case LogFormatJSON:
		zc = zap.NewProductionConfig()
	case LogFormatConsole, "":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(cfg.Output) > 0 {
		zc.OutputPaths = cfg.Output
	}

	return zc.Build(zap.Fields(zap.String("service", serviceName)))
}
