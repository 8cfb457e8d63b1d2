// pkg/logger/logger.go
package logger

import (
	"go.uber.org/zap"
)

type Sugared = *zap.SugaredLogger

// New returns a JSON production logger for "prod" and a console logger otherwise.
func New(env string) Sugared {
	var z *zap.Logger
	if env == "prod" {
		z, _ = zap.NewProduction()
	} else {
		z, _ = zap.NewDevelopment()
	}
	return z.Sugar().With("service_env", env)
}

// Nop discards everything. Used by tests and library callers that pass no logger.
func Nop() Sugared { return zap.NewNop().Sugar() }

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log Sugared) Sugared {
	if log == nil {
		return Nop()
	}
	return log
}
