package posclient

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the default JSON logger. The level is read from
// POS_LOG_LEVEL (default info).
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(os.Getenv("POS_LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// ensureLogger returns a discarding logger when none was injected, so callers
// never have to nil-check.
func ensureLogger(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
