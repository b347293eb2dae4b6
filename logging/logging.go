// Package logging builds the logrus.Entry every other package accepts
// as its Log field, applying the service-wide level/format
// configuration in one place instead of each package reaching for
// logrus.StandardLogger() directly.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Entry tagged with "service", configured per the
// service-wide log level and format (text or json, matching the
// config package's ServiceConfig.LogFormat).
func New(service, level, format string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger.WithField("service", service)
}
