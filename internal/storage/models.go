package storage

import "time"

// Run is the audit record for one execution. It deliberately has no field
// for source text or program output.
type Run struct {
	ID          string    `json:"id"`
	CodeHash    string    `json:"code_hash"`
	Backend     string    `json:"backend"`
	Status      string    `json:"status"` // success, program_error, timeout
	ExitCode    int       `json:"exit_code"`
	DurationMS  int64     `json:"duration_ms"`
	CodeBytes   int       `json:"code_bytes"`
	StdoutBytes int       `json:"stdout_bytes"`
	StderrBytes int       `json:"stderr_bytes"`
	Truncated   bool      `json:"truncated"`
	RequestIP   string    `json:"request_ip"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunFilter provides criteria for querying runs.
type RunFilter struct {
	Status string
	Since  *time.Time
	Limit  int
	Offset int
}
