package bootstrap

import (
	"rebuybot/pkg/logging"
)

// InitLogger builds the process logger. Call it after telemetry setup so the
// OTel bridge picks up the configured log provider.
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	return logging.NewZapLoggerWithFormat(cfg.App.LogLevel, cfg.App.LogFormat)
}
