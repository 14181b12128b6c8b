package api

import (
	"fmt"
	"strings"
	"time"

	"simpleflow-sandbox/internal/sandbox"
)

// RunRequest is the submission body. Code is a pointer so a missing field
// and a non-string field can be told apart.
type RunRequest struct {
	Code *string `json:"code"`
}

// RunResponse is the body for every executed submission. Output is omitted
// only for timeouts; Error is always present and empty on success.
type RunResponse struct {
	Output *string `json:"output,omitempty"`
	Error  string  `json:"error"`
}

// ErrorResponse is returned for requests that never reached the sandbox.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	Database string `json:"database"` // ok, down, disabled
	Active   int64  `json:"active"`
	Uptime   string `json:"uptime"`
}

// normalize converts CRLF line endings and strips surrounding whitespace.
func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// TimeoutMessage is the diagnostic shown when a run hits its deadline.
func TimeoutMessage(deadline time.Duration) string {
	return fmt.Sprintf("Execution timed out (%dms)", deadline.Milliseconds())
}

// NewRunResponse maps a classified outcome onto the wire shape.
func NewRunResponse(o *sandbox.Outcome) RunResponse {
	switch o.Status() {
	case sandbox.StatusTimeout:
		return RunResponse{Error: TimeoutMessage(o.Deadline)}
	case sandbox.StatusProgramError:
		out := normalize(o.Stdout)
		diag := normalize(o.Stderr)
		if diag == "" {
			diag = fmt.Sprintf("Program exited with status %d", o.ExitCode)
		}
		return RunResponse{Output: &out, Error: diag}
	default:
		out := normalize(o.Stdout)
		return RunResponse{Output: &out, Error: ""}
	}
}
