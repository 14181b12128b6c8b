//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// processGone reports whether pid no longer exists or is a zombie waiting
// for a reaper that isn't this test.
func processGone(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	// The state follows the parenthesised command name.
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	return i >= 0 && i+2 < len(s) && s[i+2] == 'Z'
}

func waitGone(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if processGone(pid) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("process %d still alive", pid)
}

func grandchildPID(t *testing.T, stdout string) int {
	t.Helper()
	pid, err := strconv.Atoi(strings.TrimSpace(strings.SplitN(stdout, "\n", 2)[0]))
	if err != nil {
		t.Fatalf("could not parse grandchild pid from %q", stdout)
	}
	return pid
}

func TestProcessRunner_TimeoutKillsGrandchildren(t *testing.T) {
	r, _ := newShRunner(t, nil)

	out, err := r.Execute(context.Background(), ExecutionRequest{
		Code:    "sleep 30 &\necho $!\nwait",
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.TimedOut {
		t.Fatalf("expected timeout, got %+v", out)
	}
	waitGone(t, grandchildPID(t, out.Stdout))
}

func TestProcessRunner_ExitReapsBackgroundJobs(t *testing.T) {
	r, _ := newShRunner(t, nil)

	out, err := r.Execute(context.Background(), ExecutionRequest{
		Code: "sleep 30 >/dev/null 2>&1 &\necho $!",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.TimedOut {
		t.Fatal("run should have finished before its deadline")
	}
	waitGone(t, grandchildPID(t, out.Stdout))
}

func TestProcessRunner_OpenFilesLimit(t *testing.T) {
	r, _ := newShRunner(t, func(o *Options) { o.Limits = ResourceLimits{OpenFiles: 64} })

	// The limit lands after exec, so give the shell a moment before reading it.
	out, err := r.Execute(context.Background(), ExecutionRequest{Code: "sleep 0.2\nulimit -n"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.Stdout); got != "64" {
		t.Errorf("ulimit -n = %q, want 64", got)
	}
}
