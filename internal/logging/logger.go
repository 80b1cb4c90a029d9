// Package logging builds the structured logger shared by the consent API
// process.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap production logger at the requested level. A
// non-empty service name is stamped on every entry so consent writes can be
// traced back to this process in aggregated logs.
func NewLogger(level, service string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	if trimmed := strings.TrimSpace(service); trimmed != "" {
		cfg.InitialFields = map[string]interface{}{"service": trimmed}
	}

	return cfg.Build()
}
