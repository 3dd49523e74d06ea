// Package logging centralizes construction of the structured logger used
// by every core component.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mirrors config.LoggingConfig without importing it, to keep this
// package dependency-free of the rest of the core.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// New builds a *zap.Logger honoring Level/Format. json uses
// zap.NewProductionConfig; text uses zap.NewDevelopmentConfig, matching the
// two formats the rest of this codebase's LoggingConfig recognizes.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything, for tests that don't care
// about log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
