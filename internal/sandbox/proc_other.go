//go:build !unix

package sandbox

import (
	"errors"
	"os"
	"os/exec"
)

// Without process groups only the direct child can be killed.
func setProcessGroup(*exec.Cmd) {}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return os.ErrProcessDone
}

func exitStatus(state *os.ProcessState) int {
	return state.ExitCode()
}
