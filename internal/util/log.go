package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging on pterm's default logger (stderr). The Peer variants
// attach the peer id as a structured argument so per-peer lines can be
// grepped.

func LogDebug(format string, args ...interface{})   { logf(pterm.LogLevelDebug, "", format, args) }
func LogInfo(format string, args ...interface{})    { logf(pterm.LogLevelInfo, "", format, args) }
func LogSuccess(format string, args ...interface{}) { logf(pterm.LogLevelInfo, "", format, args) }
func LogWarning(format string, args ...interface{}) { logf(pterm.LogLevelWarn, "", format, args) }
func LogError(format string, args ...interface{})   { logf(pterm.LogLevelError, "", format, args) }

func LogPeerDebug(peer, format string, args ...interface{}) {
	logf(pterm.LogLevelDebug, peer, format, args)
}

func LogPeerWarning(peer, format string, args ...interface{}) {
	logf(pterm.LogLevelWarn, peer, format, args)
}

func logf(level pterm.LogLevel, peer, format string, args []interface{}) {
	l := pterm.DefaultLogger
	msg := fmt.Sprintf(format, args...)

	var fields []pterm.LoggerArgument
	if peer != "" {
		fields = l.Args("peer", peer)
	}

	switch level {
	case pterm.LogLevelDebug:
		l.Debug(msg, fields)
	case pterm.LogLevelWarn:
		l.Warn(msg, fields)
	case pterm.LogLevelError:
		l.Error(msg, fields)
	default:
		l.Info(msg, fields)
	}
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}
