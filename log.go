package mvkv

import "sync"

// LogLvl selects how verbose the package logger is.
type LogLvl int

// Log levels
const (
	LogLvlFatal       LogLvl = 0
	LogLvlError       LogLvl = 1
	LogLvlWarn        LogLvl = 2
	LogLvlNotice      LogLvl = 3
	LogLvlVerbose     LogLvl = 4
	LogLvlDebug       LogLvl = 5
	LogLvlTrace       LogLvl = 6
	LogLvlDoNotChange LogLvl = -1
)

// LoggerFunc is a callback function for logging.
type LoggerFunc func(msg string, args ...any)

// global logger settings
var (
	loggerMu       sync.RWMutex
	globalLogLevel LogLvl = LogLvlDoNotChange
	globalLogger   LoggerFunc
)

// SetLogger sets the logger function and level.
// Returns the previous log level.
func SetLogger(logger LoggerFunc, level LogLvl) LogLvl {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := globalLogLevel
	globalLogger = logger
	if level != LogLvlDoNotChange {
		globalLogLevel = level
	}
	return prev
}

// logAt emits a message through the package logger when the level allows.
func logAt(level LogLvl, msg string, args ...any) {
	loggerMu.RLock()
	logger := globalLogger
	max := globalLogLevel
	loggerMu.RUnlock()
	if logger == nil || max == LogLvlDoNotChange || level > max {
		return
	}
	logger(msg, args...)
}
