package protocol

import "time"

// LogLevel is the normalized severity of a LogRecord, independent of the
// worker's own logging framework's vocabulary.
type LogLevel string

const (
	LogLevelTrace LogLevel = "TRACE"
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogRecord is one line read from a worker's stdout or stderr, after the log
// pump's best-effort structured parse.
type LogRecord struct {
	Timestamp time.Time
	Logger    string
	Level     LogLevel
	Message   string
	Stream    string // "stdout" or "stderr"
	Metadata  map[string]string
}
