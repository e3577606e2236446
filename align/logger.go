package align

import (
	"log"
	"sync"
)

type logFunc func(format string, v ...interface{})

var (
	logMu sync.RWMutex
	logf  logFunc = log.Printf
)

// Logf writes to the package logger.  The sweep runs in the background, so
// its diagnostics go here rather than to a caller.
func Logf(format string, v ...interface{}) {
	logMu.RLock()
	f := logf
	logMu.RUnlock()
	f(format, v...)
}

// SetLogger replaces the package logger. Passing nil mutes it.  It is safe
// to call while a sweep is running.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	logMu.Lock()
	logf = f
	logMu.Unlock()
}
