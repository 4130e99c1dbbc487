package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal logging into the pterm logger.
// pion is chatty at info level, so trace/debug/info all map to debug.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) prefix(msg string) string { return "[pion/" + l.scope + "] " + msg }

func (l pionLogger) Trace(msg string)                  { LogDebug("%s", l.prefix(msg)) }
func (l pionLogger) Tracef(format string, args ...any) { l.Trace(fmt.Sprintf(format, args...)) }
func (l pionLogger) Debug(msg string)                  { LogDebug("%s", l.prefix(msg)) }
func (l pionLogger) Debugf(format string, args ...any) { l.Debug(fmt.Sprintf(format, args...)) }
func (l pionLogger) Info(msg string)                   { LogDebug("%s", l.prefix(msg)) }
func (l pionLogger) Infof(format string, args ...any)  { l.Info(fmt.Sprintf(format, args...)) }
func (l pionLogger) Warn(msg string)                   { LogWarning("%s", l.prefix(msg)) }
func (l pionLogger) Warnf(format string, args ...any)  { l.Warn(fmt.Sprintf(format, args...)) }
func (l pionLogger) Error(msg string)                  { LogError("%s", l.prefix(msg)) }
func (l pionLogger) Errorf(format string, args ...any) { l.Error(fmt.Sprintf(format, args...)) }
