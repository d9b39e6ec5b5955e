package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options shape the process logger.
type Options struct {
	Level       string
	Service     string
	Environment string
	Version     string
	// Console switches to the human-readable encoder used outside production.
	Console bool
}

// New builds the process logger. Service, environment and version are
// attached once here so request loggers only add request identifiers.
func New(opts Options) (*zap.Logger, error) {
	level := strings.TrimSpace(opts.Level)
	if level == "" {
		level = "info"
	}
	var atom zap.AtomicLevel
	if err := atom.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if opts.Console {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = atom
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	// Sampling would drop repeated audit degradation errors.
	cfg.Sampling = nil

	var fields []zap.Field
	for _, kv := range [][2]string{
		{"service", opts.Service},
		{"env", opts.Environment},
		{"version", opts.Version},
	} {
		if kv[1] != "" {
			fields = append(fields, zap.String(kv[0], kv[1]))
		}
	}

	return cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel), zap.Fields(fields...))
}
