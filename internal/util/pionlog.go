package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// pionLoggerFactory routes pion's internal logging into pterm. Pion is
// chatty, so its info level is demoted to debug and its debug level to trace.
type pionLoggerFactory struct{}

// NewPionLoggerFactory returns a logging.LoggerFactory for a pion
// SettingEngine.
func NewPionLoggerFactory() logging.LoggerFactory {
	return pionLoggerFactory{}
}

func (pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: "pion/" + scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) log(level pterm.LogLevel, msg string) {
	logger := pterm.DefaultLogger
	args := logger.Args("scope", l.scope)
	switch level {
	case pterm.LogLevelTrace:
		logger.Trace(msg, args)
	case pterm.LogLevelDebug:
		logger.Debug(msg, args)
	case pterm.LogLevelWarn:
		logger.Warn(msg, args)
	default:
		logger.Error(msg, args)
	}
}

func (l pionLogger) Trace(msg string) { l.log(pterm.LogLevelTrace, msg) }
func (l pionLogger) Tracef(format string, args ...interface{}) {
	l.log(pterm.LogLevelTrace, fmt.Sprintf(format, args...))
}
func (l pionLogger) Debug(msg string) { l.log(pterm.LogLevelTrace, msg) }
func (l pionLogger) Debugf(format string, args ...interface{}) {
	l.log(pterm.LogLevelTrace, fmt.Sprintf(format, args...))
}
func (l pionLogger) Info(msg string) { l.log(pterm.LogLevelDebug, msg) }
func (l pionLogger) Infof(format string, args ...interface{}) {
	l.log(pterm.LogLevelDebug, fmt.Sprintf(format, args...))
}
func (l pionLogger) Warn(msg string) { l.log(pterm.LogLevelWarn, msg) }
func (l pionLogger) Warnf(format string, args ...interface{}) {
	l.log(pterm.LogLevelWarn, fmt.Sprintf(format, args...))
}
func (l pionLogger) Error(msg string) { l.log(pterm.LogLevelError, msg) }
func (l pionLogger) Errorf(format string, args ...interface{}) {
	l.log(pterm.LogLevelError, fmt.Sprintf(format, args...))
}
