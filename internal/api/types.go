package api

import (
	"time"
)

// ProcessReport describes one supervised child process.
type ProcessReport struct {
	Name     string `json:"name"`
	PID      int    `json:"pid"`
	Running  bool   `json:"running"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// TaskReport describes one relay or drain task.
type TaskReport struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Lines  int64  `json:"lines"`
	Bytes  int64  `json:"bytes"`
	Error  string `json:"error,omitempty"`
}

// StatusReport is a point-in-time snapshot of the supervisor.
type StatusReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Phase       string          `json:"phase"`
	Processes   []ProcessReport `json:"processes"`
	Tasks       []TaskReport    `json:"tasks"`
}

// StatusProvider exposes the supervisor state to status servers.
type StatusProvider interface {
	Status() StatusReport
}
