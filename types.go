package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package. Arguments
// after the message are key/value pairs.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// Clock returns the current time. Every time dependent decision
// (lockout, token expiry, reset windows) goes through one Clock.
type Clock func() time.Time

func defaultClock() time.Time {
	return time.Now().UTC()
}

func normalizeClock(c Clock) Clock {
	if c == nil {
		return defaultClock
	}
	return c
}

// ResolveLogger returns the provider and the scoped logger for name.
// A non nil logger wins over the provider.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if logger != nil {
		if provider == nil {
			provider = fixedLoggerProvider{logger: logger}
		}
		return provider, logger
	}

	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return provider, l
		}
	}

	fallback := defaultLogger()
	return fixedLoggerProvider{logger: fallback}, fallback
}

type fixedLoggerProvider struct {
	logger Logger
}

func (p fixedLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

func defaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Trace(msg string, args ...any) { d.print("TRC", msg, args...) }
func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }
func (d defLogger) Fatal(msg string, args ...any) { d.print("FTL", msg, args...) }

func (d defLogger) WithContext(context.Context) Logger {
	return d
}

func (d defLogger) print(level, msg string, args ...any) {
	line := fmt.Sprintf("[%s] AUTH %s", level, msg)
	for i := 0; i+1 < len(args); i += 2 {
		line += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		line += fmt.Sprintf(" %v", args[len(args)-1])
	}
	fmt.Println(line)
}
