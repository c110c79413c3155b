// Package log provides the process-wide logger used by every bmcam component.
package log

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"firestige.xyz/bmcam/internal/config"
)

// TagKey is the field carrying a subsystem tag such as LINK or CLOCK.
const TagKey = "tag"

type Logger interface {
	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
}

var (
	mu     sync.RWMutex
	logger Logger = bootstrap()
)

// bootstrap logs to stderr at info until Init runs, so packages never see a nil logger.
func bootstrap() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&formatter{pattern: defaultPattern, time: defaultTime})
	return NewLogrus(l)
}

func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init replaces the process-wide logger with one built from cfg.
func Init(cfg config.LogConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

// Named returns the process-wide logger tagged with a subsystem name.
func Named(tag string) Logger {
	return GetLogger().WithField(TagKey, tag)
}

// Or returns l, or a Named logger when l is nil.
func Or(l Logger, tag string) Logger {
	if l != nil {
		return l
	}
	return Named(tag)
}
