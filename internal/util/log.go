package util

import (
	"fmt"
	"io"
	"sync"

	"github.com/pterm/pterm"
)

// logMu guards pterm.DefaultLogger: Configure writes it while any goroutine
// may be logging.
var logMu sync.RWMutex

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging backed by pterm's default logger, which writes to stderr
// unless redirected with Configure.

func LogDebug(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logMu.RLock()
	defer logMu.RUnlock()
	pterm.DefaultLogger.Debug(msg)
}

func LogInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logMu.RLock()
	defer logMu.RUnlock()
	pterm.DefaultLogger.Info(msg)
}

func LogWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logMu.RLock()
	defer logMu.RUnlock()
	pterm.DefaultLogger.Warn(msg)
}

func LogError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logMu.RLock()
	defer logMu.RUnlock()
	pterm.DefaultLogger.Error(msg)
}

// Configure sets the process-wide log level and output. Debug output
// includes every dropped packet and frame. A nil w keeps the current writer.
func Configure(debug bool, w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	if debug {
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	} else {
		pterm.DefaultLogger.Level = pterm.LogLevelInfo
	}
	if w != nil {
		pterm.DefaultLogger.Writer = w
	}
}
