package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/Paintersrp/agentmgr/internal/runtime"
)

// LogRecord is a relayed output line ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	Process   string    `json:"process"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
}

// NewLogRecord wraps a line read from a process stream. The level is
// inferred from a leading token such as ERROR or [warn]; lines without one
// are info on stdout and warn on stderr.
func NewLogRecord(process, source, line string) LogRecord {
	level := inferLogLevel(line)
	if level == "" {
		level = "info"
		if source == runtime.LogSourceStderr {
			level = "warn"
		}
	}
	if source == "" {
		source = runtime.LogSourceSystem
	}
	return LogRecord{
		Timestamp: time.Now(),
		Process:   process,
		Level:     level,
		Message:   line,
		Source:    source,
	}
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(critical|fatal|error|warn(?:ing)?|info|debug)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch token := strings.ToLower(matches[1]); token {
	case "critical", "fatal", "error":
		return "error"
	case "warn", "warning":
		return "warn"
	default:
		return token
	}
}

// EncodeLogRecord writes record as one JSON line, reporting encoder errors
// to stderr.
func EncodeLogRecord(enc *json.Encoder, stderr io.Writer, record LogRecord) {
	if enc == nil {
		return
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}
