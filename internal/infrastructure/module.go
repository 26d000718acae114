// Package infrastructure provides core infrastructure components and their Fx modules.
package infrastructure

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Raikerian/go-discord-recorder/internal/config"
	pkginfra "github.com/Raikerian/go-discord-recorder/pkg/infrastructure"
)

// LoggerModule provides logging infrastructure.
var LoggerModule = fx.Module("logger",
	fx.Provide(NewZapLogger),
)

// NewZapLoggerParams holds dependencies for NewZapLogger.
type NewZapLoggerParams struct {
	fx.In
	Cfg *config.Config
	LC  fx.Lifecycle
}

// NewZapLogger creates and configures a new Zap logger.
func NewZapLogger(params NewZapLoggerParams) (*zap.Logger, error) {
	zapConfig, err := BuildZapConfig(params.Cfg.LogLevel, params.Cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create zap logger: %w", err)
	}
	logger = logger.Named("recorder")

	params.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Sync on stdout/stderr returns EINVAL on some platforms.
			_ = logger.Sync()

			return nil
		},
	})

	return logger, nil
}

// BuildZapConfig maps a level name and an encoding onto a zap config.
// Debug level uses the development preset.
func BuildZapConfig(level, format string) (zap.Config, error) {
	var zapConfig zap.Config
	if level == "debug" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		lvl := zapcore.InfoLevel
		if level != "" {
			if err := lvl.UnmarshalText([]byte(level)); err != nil {
				return zap.Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
			}
		}
		zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	}

	switch format {
	case "":
	case "json", "console":
		zapConfig.Encoding = format
	default:
		return zap.Config{}, fmt.Errorf("invalid log format %q", format)
	}
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapConfig, nil
}

// NewFxLoggerAdapter creates a new Fx logger adapter using the public package.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return pkginfra.NewFxLoggerAdapter(logger)
}
