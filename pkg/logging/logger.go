// Package logging provides the process-wide logger for cvservice.
// It wraps logrus. Output always goes to stderr (stdout carries the render
// stream), optionally mirrored to a file and to syslog.
package logging

import (
	"io"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// Logger is the application-wide logger instance.
var Logger *logrus.Logger

// Fields is an alias for logrus.Fields for convenience.
type Fields = logrus.Fields

// Entry is a logger carrying fields, as returned by Component.
type Entry = logrus.Entry

func init() {
	Logger = newLogger()
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// parseLevel maps a config level to logrus, defaulting to info.
func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Init sets the level and, when logFile is non-empty, tees output into it.
func Init(level string, logFile string) error {
	Logger.SetLevel(parseLevel(level))

	if logFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	Logger.SetOutput(io.MultiWriter(os.Stderr, file))
	return nil
}

// EnableSyslog forwards every entry to the local syslog daemon under tag.
func EnableSyslog(tag string) error {
	hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return err
	}
	Logger.AddHook(hook)
	return nil
}

// SetLevel sets the logging level. Unknown names are ignored.
func SetLevel(level string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		Logger.SetLevel(lvl)
	}
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Infof logs a formatted info message.
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// Warnf logs a formatted warning message.
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Errorf logs a formatted error message.
func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

// WithFields returns an entry with fields attached.
func WithFields(fields Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithError returns an entry with an error attached.
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

// Component returns a logger entry for a specific component.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}
