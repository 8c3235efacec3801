package logging

import (
	"io"

	"github.com/google/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewAccessLogger builds the JSON zap logger used for HTTP access logs.
// Debug mode lowers the level to debug.
func NewAccessLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// InitDomainLogger sets up the package level google/logger used by services and handlers.
// Entries always go to stdout/stderr and are copied to file when one is given.
func InitDomainLogger(name string, file io.Writer) *logger.Logger {
	if file == nil {
		file = io.Discard
	}
	return logger.Init(name, true, false, file)
}
