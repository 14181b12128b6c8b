package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"simpleflow-sandbox/internal/monitor"
	"simpleflow-sandbox/internal/runtime"
	"simpleflow-sandbox/pkg/seccomp"
)

const (
	containerWorkdir = "/workspace"
	containerLabel   = "simpleflow.sandbox"
)

// DockerOptions configure the throwaway container each run gets.
type DockerOptions struct {
	MemoryMB  int64
	PidsLimit int64
	CPUs      float64
	Seccomp   bool
}

// DockerRunner runs the interpreter inside a fresh container per request.
// The staged artifact is bind-mounted read-only; nothing else from the host
// is visible.
type DockerRunner struct {
	*executor
	image       string
	docker      DockerOptions
	dockerHost  string // resolved DOCKER_HOST (e.g. from Docker context)
	seccompDir  string
	seccompPath string
}

// NewDockerRunner checks that the daemon is reachable, writes the seccomp
// profile once and removes containers left over from a previous process.
// rt must describe the interpreter as it exists inside the image.
func NewDockerRunner(rt *runtime.Interpreter, opts Options, dopts DockerOptions, metrics *monitor.Metrics) (*DockerRunner, error) {
	if rt.Image() == "" {
		return nil, fmt.Errorf("docker backend: interpreter %q has no image", rt.Name())
	}
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker not found in PATH: %w", err)
	}

	d := &DockerRunner{
		executor:   newExecutor("docker", rt, opts, metrics),
		image:      rt.Image(),
		docker:     dopts,
		dockerHost: resolveDockerHost(),
	}

	info := d.dockerCommand(context.Background(), "info", "--format", "{{.ServerVersion}}")
	if err := info.Run(); err != nil {
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}

	if dopts.Seccomp {
		if err := d.writeSeccompProfile(); err != nil {
			return nil, err
		}
	}

	d.cleanupOrphans()
	return d, nil
}

func (d *DockerRunner) writeSeccompProfile() error {
	profile, err := seccomp.DockerProfileJSON()
	if err != nil {
		return fmt.Errorf("seccomp profile: %w", err)
	}
	dir, err := os.MkdirTemp("", "simpleflow-seccomp-*")
	if err != nil {
		return fmt.Errorf("seccomp profile dir: %w", err)
	}
	path := filepath.Join(dir, "seccomp.json")
	if err := os.WriteFile(path, profile, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("writing seccomp profile: %w", err)
	}
	d.seccompDir = dir
	d.seccompPath = path
	return nil
}

func (d *DockerRunner) dockerCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "docker", args...) // #nosec G204 -- args built internally
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	return cmd
}

// cleanupOrphans force-removes sandbox containers that survived a crash of
// an earlier server process. It runs before any request is accepted, so
// every labelled container it finds is stale.
func (d *DockerRunner) cleanupOrphans() {
	out, err := d.dockerCommand(context.Background(), "ps", "-aq", "--filter", "label="+containerLabel).Output()
	if err != nil {
		return
	}
	for _, id := range strings.Fields(string(out)) {
		log.Warn().Str("container_id", id).Msg("removing orphaned sandbox container")
		_ = d.dockerCommand(context.Background(), "rm", "-f", id).Run()
	}
}

// resolveDockerHost figures out the Docker socket. On macOS, Docker Desktop uses
// a context-specific socket that child processes don't inherit.
func resolveDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}

	out, err := exec.Command("docker", "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output()
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved Docker host from context")
			return host
		}
	}

	return ""
}

func (d *DockerRunner) Execute(ctx context.Context, req ExecutionRequest) (*Outcome, error) {
	return d.execute(ctx, req, d.prepare)
}

func (d *DockerRunner) prepare(execID string, a *Artifact) (*launch, error) {
	// The container runs as nobody and must be able to read the mount.
	if err := os.Chmod(a.Path, 0o444); err != nil { // #nosec G302 -- read-only bind mount
		return nil, fmt.Errorf("chmod artifact: %w", err)
	}

	name := containerName(execID)
	containerPath := containerWorkdir + "/program" + d.rt.FileExtension()

	env := os.Environ()
	if d.dockerHost != "" {
		env = append(env, "DOCKER_HOST="+d.dockerHost)
	}

	return &launch{
		argv: append([]string{"docker"}, d.buildDockerArgs(name, a.Path, containerPath)...),
		dir:  d.opts.ScratchDir,
		env:  env,
		onKill: func() {
			// Killing the docker CLI does not stop the container.
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.dockerCommand(ctx, "rm", "-f", name).Run(); err != nil {
				log.Warn().Err(err).Str("container", name).Msg("failed to remove container after kill")
			}
		},
		infraExit: dockerInfraExit,
	}, nil
}

// dockerInfraExit matches the statuses docker run uses for its own failures:
// 125 when the daemon or CLI fails, 126 and 127 when the container command
// cannot be invoked or found.
func dockerInfraExit(code int) bool {
	return code == 125 || code == 126 || code == 127
}

func containerName(execID string) string {
	return "sandbox-" + execID
}

func (d *DockerRunner) buildDockerArgs(name, hostPath, containerPath string) []string {
	args := []string{
		"run", "--rm",
		"--name", name,
		"--label", containerLabel + "=true",
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--read-only",
		"--tmpfs", "/tmp:rw,nosuid,nodev,size=64m",
		"--user", "65534:65534",
		"--workdir", containerWorkdir,
		"-v", fmt.Sprintf("%s:%s:ro", hostPath, containerPath),
		"-e", "HOME=/tmp",
		"-e", "LANG=C.UTF-8",
	}
	if d.seccompPath != "" {
		args = append(args, "--security-opt", "seccomp="+d.seccompPath)
	}
	if d.docker.MemoryMB > 0 {
		mem := fmt.Sprintf("%dm", d.docker.MemoryMB)
		args = append(args, "--memory", mem, "--memory-swap", mem)
	}
	if d.docker.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(d.docker.PidsLimit, 10))
	}
	if d.docker.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(d.docker.CPUs, 'f', -1, 64))
	}
	args = append(args, d.opts.Limits.DockerUlimits()...)

	args = append(args, d.image)
	args = append(args, d.rt.Command(containerPath)...)
	return args
}

func (d *DockerRunner) Close() error {
	d.drain(30 * time.Second)
	if d.seccompDir != "" {
		if err := os.RemoveAll(d.seccompDir); err != nil {
			log.Warn().Err(err).Msg("failed to remove seccomp profile")
		}
	}
	return nil
}
