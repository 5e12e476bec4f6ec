// Package logpump reads a worker's stdout/stderr streams line by line,
// parses each line into a structured log record, and forwards accepted
// records into a bounded queue and a host sink (§4.3).
package logpump

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prism-community/workersup/pkg/protocol"
)

var (
	structuredLinePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3}) - ([^-]+) - (\w+) - (.*)$`)
	bootstrapLinePattern  = regexp.MustCompile(`^BOOTSTRAP_STATUS: (.*)$`)

	structuredTimestampLayout = "2006-01-02 15:04:05,000"
)

// ParseLine converts one line of stdio output from the given stream
// ("stdout" or "stderr") into a LogRecord, following the bootstrap-marker /
// structured / plain-text precedence of §4.3. It never returns an error:
// unparseable structured-looking lines fall back to plain text, matching the
// original implementation's behavior of never letting a parse failure
// propagate.
func ParseLine(stream, line string, now time.Time) protocol.LogRecord {
	if m := bootstrapLinePattern.FindStringSubmatch(line); m != nil {
		return protocol.LogRecord{
			Timestamp: now,
			Level:     protocol.LogLevelInfo,
			Message:   fmt.Sprintf("Bootstrap status: %s", m[1]),
			Stream:    stream,
			Metadata:  map[string]string{"bootstrap_status": m[1]},
		}
	}

	if m := structuredLinePattern.FindStringSubmatch(line); m != nil {
		ts, err := time.Parse(structuredTimestampLayout, m[1])
		if err == nil {
			logger := strings.TrimSpace(m[2])
			return protocol.LogRecord{
				Timestamp: ts,
				Level:     mapLevel(m[3]),
				Message:   m[4],
				Stream:    stream,
				Metadata:  map[string]string{"logger": logger},
			}
		}
		// Prefix matched but timestamp failed to parse; fall through to
		// plain text per §4.3.
	}

	return protocol.LogRecord{
		Timestamp: now,
		Level:     protocol.LogLevelInfo,
		Message:   line,
		Stream:    stream,
	}
}

// mapLevel normalizes a raw level token from a structured log line.
func mapLevel(raw string) protocol.LogLevel {
	switch strings.ToUpper(raw) {
	case "TRACE":
		return protocol.LogLevelTrace
	case "DEBUG":
		return protocol.LogLevelDebug
	case "INFO":
		return protocol.LogLevelInfo
	case "WARN":
		return protocol.LogLevelWarn
	case "WARNING":
		return protocol.LogLevelWarn
	case "ERROR":
		return protocol.LogLevelError
	case "CRITICAL":
		return protocol.LogLevelError
	default:
		return protocol.LogLevelInfo
	}
}

// levelRank orders levels for filtering; higher ranks are more severe.
var levelRank = map[protocol.LogLevel]int{
	protocol.LogLevelTrace: 0,
	protocol.LogLevelDebug: 1,
	protocol.LogLevelInfo:  2,
	protocol.LogLevelWarn:  3,
	protocol.LogLevelError: 4,
}

// Passes reports whether level meets or exceeds the filter's severity.
func Passes(level, filter protocol.LogLevel) bool {
	return levelRank[level] >= levelRank[filter]
}
