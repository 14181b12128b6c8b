//go:build unix

package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fakeDocker puts a docker stand-in on PATH that writes a daemon-style
// error and exits with FAKE_DOCKER_EXIT.
func fakeDocker(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	script := "#!/bin/sh\necho 'docker: Error response from daemon: pull access denied' >&2\nexit ${FAKE_DOCKER_EXIT:-0}\n"
	if err := os.WriteFile(filepath.Join(bin, "docker"), []byte(script), 0o755); err != nil { // #nosec G306 -- test helper must be executable
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestDockerRunner_LauncherFailureIsSpawnError(t *testing.T) {
	fakeDocker(t)

	for _, code := range []string{"125", "126", "127"} {
		t.Run("exit "+code, func(t *testing.T) {
			t.Setenv("FAKE_DOCKER_EXIT", code)
			d := newTestDockerRunner(t, DockerOptions{}, "")

			out, err := d.Execute(context.Background(), ExecutionRequest{Code: "show 1"})
			if !errors.Is(err, ErrSpawn) {
				t.Fatalf("err = %v, want ErrSpawn (outcome %+v)", err, out)
			}
			if out != nil {
				t.Error("launcher failure must not produce an outcome")
			}
			assertScratchEmpty(t, d.opts.ScratchDir)
		})
	}
}

func TestDockerRunner_ProgramFailureIsOutcome(t *testing.T) {
	fakeDocker(t)
	t.Setenv("FAKE_DOCKER_EXIT", "1")
	d := newTestDockerRunner(t, DockerOptions{}, "")

	out, err := d.Execute(context.Background(), ExecutionRequest{Code: "show 1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.ExitCode != 1 || out.Status() != StatusProgramError {
		t.Errorf("outcome = %+v, want program error with exit 1", out)
	}
}

func TestDockerInfraExit(t *testing.T) {
	for code, want := range map[int]bool{0: false, 1: false, 124: false, 125: true, 126: true, 127: true, 137: false} {
		if got := dockerInfraExit(code); got != want {
			t.Errorf("dockerInfraExit(%d) = %v, want %v", code, got, want)
		}
	}
}
