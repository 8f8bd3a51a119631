// Package logging builds the zap loggers shared by the portal components.
package logging

import "go.uber.org/zap"

// New returns a sugared logger for the given environment name.
// "production" and "development" map to zap's presets; anything else
// gets the example logger (no timestamps, debug level), which keeps
// local and test output readable.
func New(env string) (*zap.SugaredLogger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	switch env {
	case "production":
		logger, err = zap.NewProduction()
	case "development":
		logger, err = zap.NewDevelopment()
	default:
		logger = zap.NewExample()
	}
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
