package logger

import (
	"context"

	"github.com/smallbiznis/claimwise/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the process logger and installs it as the zap global.
var Module = fx.Module("logger",
	fx.Provide(NewFromConfig),
	fx.Invoke(registerHooks),
)

func NewFromConfig(cfg config.Config) (*zap.Logger, error) {
	log, err := New(Options{
		Level:       cfg.Logger.Level,
		Service:     cfg.AppName,
		Environment: cfg.Environment,
		Version:     cfg.AppVersion,
		Console:     !cfg.IsProduction() && cfg.Logger.Level == "debug",
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

func registerHooks(lc fx.Lifecycle, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// stdout reports EINVAL on sync; nothing is lost.
			_ = log.Sync()
			return nil
		},
	})
}
