package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger at the given level. Repository commands run
// short-lived, so the development config's console encoding is used.
func New(level string) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}

// Nop returns a logger that discards everything, for tests and for
// callers that have no logging configured.
func Nop() *zap.Logger {
	return zap.NewNop()
}
