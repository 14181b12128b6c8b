package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionRequest is one submission. Timeout, when set, overrides the
// configured deadline and is bounded by the configured maximum.
type ExecutionRequest struct {
	Code    string        `json:"code"`
	Timeout time.Duration `json:"-"`
}

// Status is the classified result of a run.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusProgramError Status = "program_error"
	StatusTimeout      Status = "timeout"
)

// Outcome is what a completed run produced. It is returned for every run that
// actually spawned, including timeouts and failing programs.
type Outcome struct {
	ID          string        `json:"id"`
	Stdout      string        `json:"stdout"`
	Stderr      string        `json:"stderr"`
	ExitCode    int           `json:"exit_code"`
	TimedOut    bool          `json:"timed_out"`
	ExitFailure bool          `json:"exit_failure"`
	Truncated   bool          `json:"truncated"`
	Deadline    time.Duration `json:"deadline"`
	Duration    time.Duration `json:"duration"`
	CodeHash    string        `json:"code_hash"`
}

// Status applies the precedence timeout > program error > success.
func (o *Outcome) Status() Status {
	switch {
	case o.TimedOut:
		return StatusTimeout
	case o.ExitFailure:
		return StatusProgramError
	default:
		return StatusSuccess
	}
}

// Classification selects which signals mark a run as failed.
type Classification string

const (
	// ClassifyStderrOrExit fails a run that wrote non-blank stderr or
	// exited non-zero.
	ClassifyStderrOrExit Classification = "stderr_or_exit"
	// ClassifyExitCode trusts the exit status alone.
	ClassifyExitCode Classification = "exit_code"
)

func ParseClassification(s string) (Classification, error) {
	switch Classification(s) {
	case "", ClassifyStderrOrExit:
		return ClassifyStderrOrExit, nil
	case ClassifyExitCode:
		return ClassifyExitCode, nil
	default:
		return "", fmt.Errorf("%w: unknown classification %q", ErrInvalidRequest, s)
	}
}

// classify sets ExitFailure. Timed-out runs are never reported as failures;
// the timeout takes precedence.
func classify(o *Outcome, mode Classification) {
	if o.TimedOut {
		o.ExitFailure = false
		return
	}
	switch mode {
	case ClassifyExitCode:
		o.ExitFailure = o.ExitCode != 0
	default:
		o.ExitFailure = o.ExitCode != 0 || strings.TrimSpace(o.Stderr) != ""
	}
}
