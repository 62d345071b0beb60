package log

import (
	"os"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Fields is re-exported so callers don't need to import logrus directly.
type Fields = logrus.Fields

// New returns the process-wide logger, configured on first use.
func New() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)

		level := logrus.InfoLevel
		if raw := os.Getenv("LOG_LEVEL"); raw != "" {
			if parsed, err := logrus.ParseLevel(raw); err == nil {
				level = parsed
			}
		}
		logger.SetLevel(level)

		logger.SetFormatter(&formatter.Formatter{
			NoColors:        false,
			HideKeys:        false,
			TimestampFormat: "15:04:05.000",
		})
	})
	return logger
}

// Component returns an entry tagged with the subsystem name.
func Component(name string) *logrus.Entry {
	return New().WithField("component", name)
}
