package logging

import (
	"fmt"

	"go.uber.org/zap"

	"mail-notifier/internal/config"
)

// New builds the process logger: JSON production output by default, console
// output when development mode is on.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		zcfg.Level = level
	}

	return zcfg.Build()
}
