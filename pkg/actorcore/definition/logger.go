// Package definition holds the small set of interfaces that the rest
// of actorcore is built against instead of concrete types: Logger and
// the metrics collectors. Keeping them here, away from core and
// harbor, lets both import definition without importing each other.
package definition

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every component in this module takes
// as a dependency rather than calling a package-level logger directly.
// A caller that wants structured, leveled output wired into their own
// aggregation pipeline supplies their own implementation; NewLogger
// returns a logrus-backed default.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output and returns
	// the new state.
	ToggleDebug(value bool) bool
}

// logrusLogger adapts *logrus.Logger to the Logger interface.
type logrusLogger struct {
	entry *logrus.Logger
}

// NewLogger builds the default Logger, writing leveled, timestamped
// lines to stderr.
func NewLogger() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{entry: l}
}

// NewFileLogger builds a Logger appending to the file at path,
// creating it if needed. The file handle lives for the process
// lifetime, same as a daemon's reopened log output.
func NewFileLogger(path string) (Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{entry: l}, nil
}

func (l *logrusLogger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *logrusLogger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }
func (l *logrusLogger) Warn(v ...interface{})                 { l.entry.Warn(v...) }
func (l *logrusLogger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }
func (l *logrusLogger) Error(v ...interface{})                { l.entry.Error(v...) }
func (l *logrusLogger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}
func (l *logrusLogger) Debug(v ...interface{}) { l.entry.Debug(v...) }
func (l *logrusLogger) Debugf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}
func (l *logrusLogger) Fatal(v ...interface{}) { l.entry.Fatal(v...) }
func (l *logrusLogger) Fatalf(format string, v ...interface{}) {
	l.entry.Fatalf(format, v...)
}
func (l *logrusLogger) Panic(v ...interface{}) { l.entry.Panic(v...) }
func (l *logrusLogger) Panicf(format string, v ...interface{}) {
	l.entry.Panicf(format, v...)
}

func (l *logrusLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.SetLevel(logrus.InfoLevel)
	}
	return value
}

// noop discards everything; used by tests that don't care about log
// output but still need a non-nil Logger.
type noop struct{}

// NewNoopLogger returns a Logger that discards all output.
func NewNoopLogger() Logger { return noop{} }

func (noop) Info(v ...interface{})                     {}
func (noop) Infof(format string, v ...interface{})     {}
func (noop) Warn(v ...interface{})                     {}
func (noop) Warnf(format string, v ...interface{})     {}
func (noop) Error(v ...interface{})                    {}
func (noop) Errorf(format string, v ...interface{})    {}
func (noop) Debug(v ...interface{})                    {}
func (noop) Debugf(format string, v ...interface{})    {}
func (noop) Fatal(v ...interface{})                    {}
func (noop) Fatalf(format string, v ...interface{})    {}
func (noop) Panic(v ...interface{})                    {}
func (noop) Panicf(format string, v ...interface{})    {}
func (noop) ToggleDebug(value bool) bool               { return value }
