// Package logging provides the structured logger shared by every task in
// the control stack.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Default is a process-wide info-level logger on stdout; cmd/mowerd does
// not use it and builds its own with New. Library code should take a
// *logrus.Logger (or *logrus.Entry) as a constructor argument instead of
// reading this directly, so tests can inject their own.
var Default *logrus.Logger

func init() {
	Default = New("info", "stdout")
}

// New builds a configured logger. level is one of debug/info/warn/error;
// output is "stdout" or a file path.
func New(level, output string) *logrus.Logger {
	logger := logrus.New()

	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if output == "" || output == "stdout" {
		logger.SetOutput(os.Stdout)
	} else {
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			logger.SetOutput(file)
		} else {
			logger.SetOutput(os.Stdout)
			logger.Warnf("failed to open log file %s, using stdout", output)
		}
	}

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	return logger
}

// Named returns a logger entry tagged with the owning component, e.g.
// Named(Default, "fusion").
func Named(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}
