// Package logger builds the process logrus logger and adapts it for pion.
package logger

import (
	"os"

	"github.com/pion/logging"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/signaling-relay/config"
)

// New returns a logger writing to stderr at the given level. An invalid
// level falls back to info and is reported on the returned logger.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := config.ParseLogLevel(level)
	log.SetLevel(lvl)
	if err != nil {
		log.WithError(err).Warn("using default log level")
	}
	return log
}

// PionFactory routes pion's leveled loggers into logrus.
type PionFactory struct {
	Log *logrus.Logger
}

func (f PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{entry: f.Log.WithFields(logrus.Fields{"mod": "pion", "scope": scope})}
}

type pionLogger struct {
	entry *logrus.Entry
}

func (l *pionLogger) Trace(msg string) { l.entry.Trace(msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}
func (l *pionLogger) Debug(msg string) { l.entry.Debug(msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}
func (l *pionLogger) Info(msg string) { l.entry.Info(msg) }
func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}
func (l *pionLogger) Warn(msg string) { l.entry.Warn(msg) }
func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}
func (l *pionLogger) Error(msg string) { l.entry.Error(msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}
