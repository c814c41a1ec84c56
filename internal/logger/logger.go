// Package logger builds the process-wide logrus logger.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to w at the given verbosity. Unknown
// verbosity strings fall back to info.
func New(w io.Writer, verbosity string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}
