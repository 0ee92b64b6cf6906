// Package http provides the HTTP transport of the POS client: the backend API
// client and the session token coordinator that keeps it authenticated under
// concurrent traffic.
package http

import (
	"io"

	"github.com/sirupsen/logrus"
)

func ensureLogger(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
