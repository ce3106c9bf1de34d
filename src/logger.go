package src

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Debug mode lowers the level and
// switches to the human readable development encoder.
func NewLogger(mode string) (*zap.Logger, error) {
	if mode == "debug" {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return config.Build()
	}
	config := zap.NewProductionConfig()
	config.DisableStacktrace = true
	return config.Build()
}
