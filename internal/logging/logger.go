// Package logging holds the process-wide zap logger for 7 Cycles.
// Production logs JSON with a service field for the log pipeline;
// development logs colored console output. LOG_LEVEL overrides the
// default level in either mode.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
)

// Init initializes the global logger from the environment. Safe to
// call multiple times.
func Init() {
	once.Do(func() {
		cfg := buildConfig(os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL"))

		var err error
		logger, err = cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			// Fallback to nop logger
			logger = zap.NewNop()
		}
		sugar = logger.Sugar()
	})
}

func buildConfig(environment, level string) zap.Config {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.InitialFields = map[string]interface{}{"service": "sevencycles"}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		if lvl, err := zapcore.ParseLevel(level); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	return cfg
}

// L returns the global structured logger
func L() *zap.Logger {
	if logger == nil {
		Init()
	}
	return logger
}

// S returns the global sugared logger (printf-style)
func S() *zap.SugaredLogger {
	if sugar == nil {
		Init()
	}
	return sugar
}

// Sync flushes any buffered log entries. Call before app exit.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// Run returns a sugared logger scoped to one workflow run.
func Run(runID string) *zap.SugaredLogger {
	return S().With("run_id", runID)
}

// Org returns a sugared logger scoped to one organization.
func Org(orgID uint) *zap.SugaredLogger {
	return S().With("organization_id", orgID)
}
