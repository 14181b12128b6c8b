package sandbox

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"simpleflow-sandbox/internal/monitor"
	"simpleflow-sandbox/internal/runtime"
)

// Options are the knobs shared by every backend.
type Options struct {
	ScratchDir     string
	Timeout        time.Duration
	MaxTimeout     time.Duration
	MaxConcurrent  int
	QueueTimeout   time.Duration
	MaxOutputBytes int
	KillGrace      time.Duration
	Classification Classification
	EnvPassthrough []string
	Limits         ResourceLimits
}

func (o *Options) setDefaults() {
	if o.ScratchDir == "" {
		o.ScratchDir = os.TempDir()
	}
	if o.Timeout <= 0 {
		o.Timeout = 3000 * time.Millisecond
	}
	if o.MaxTimeout < o.Timeout {
		o.MaxTimeout = o.Timeout
	}
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 32
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = 4 << 20
	}
	if o.KillGrace <= 0 {
		o.KillGrace = 500 * time.Millisecond
	}
	if o.Classification == "" {
		o.Classification = ClassifyStderrOrExit
	}
}

// launch is a fully resolved command line for one run.
type launch struct {
	argv    []string
	dir     string
	env     []string
	rlimits []specs.POSIXRlimit
	// onKill runs after a run was killed for timeout or cancellation, for
	// backends whose workload outlives the spawned client process.
	onKill func()
	// infraExit reports exit statuses that belong to the launcher rather
	// than the program. Such runs fail with ErrSpawn.
	infraExit func(code int) bool
}

// prepareFunc turns a staged artifact into a launch.
type prepareFunc func(execID string, a *Artifact) (*launch, error)

// executor owns the per-invocation lifecycle every backend shares:
// admission, staging, spawn, deadline, capture, classification and cleanup.
type executor struct {
	backend   string
	rt        runtime.Runtime
	opts      Options
	admission *Admission
	metrics   *monitor.Metrics
	tracer    *monitor.Tracer

	active atomic.Int64
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func newExecutor(backend string, rt runtime.Runtime, opts Options, metrics *monitor.Metrics) *executor {
	opts.setDefaults()
	return &executor{
		backend:   backend,
		rt:        rt,
		opts:      opts,
		admission: NewAdmission(opts.MaxConcurrent, opts.QueueTimeout, metrics),
		metrics:   metrics,
		tracer:    monitor.NewTracer(),
	}
}

func (e *executor) Name() string { return e.backend }

func (e *executor) ActiveCount() int64 { return e.active.Load() }

func (e *executor) enter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.wg.Add(1)
	return nil
}

func (e *executor) deadline(req ExecutionRequest) (time.Duration, error) {
	if req.Timeout == 0 {
		return e.opts.Timeout, nil
	}
	if req.Timeout < 0 || req.Timeout > e.opts.MaxTimeout {
		return 0, fmt.Errorf("%w: timeout must be within (0, %s]", ErrInvalidRequest, e.opts.MaxTimeout)
	}
	return req.Timeout, nil
}

func (e *executor) execute(ctx context.Context, req ExecutionRequest, prepare prepareFunc) (*Outcome, error) {
	execID := uuid.New().String()
	codeHash := fmt.Sprintf("%x", sha256.Sum256([]byte(req.Code)))

	logger := log.With().
		Str("exec_id", execID).
		Str("backend", e.backend).
		Str("code_hash", codeHash[:16]).
		Logger()

	if err := e.enter(); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "enter", Err: err}
	}
	defer e.wg.Done()

	if err := e.rt.Validate(req.Code); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}
	timeout, err := e.deadline(req)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: err}
	}

	release, err := e.admission.Acquire(ctx)
	if err != nil {
		if IsCapacity(err) {
			e.metrics.RecordError("capacity")
			logger.Warn().Err(err).Msg("admission rejected")
		}
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: err}
	}
	defer release()

	e.active.Add(1)
	defer e.active.Add(-1)
	e.metrics.RunStarted()
	defer e.metrics.RunFinished()

	_, stageSpan := e.tracer.StartSpan(ctx, "stage", monitor.AttrExecID.String(execID))
	artifact, err := Stage(e.opts.ScratchDir, e.rt.FileExtension(), req.Code)
	stageSpan.End()
	if err != nil {
		e.metrics.RecordError("stage")
		logger.Error().Err(err).Msg("staging failed")
		return nil, &ExecutionError{ExecID: execID, Op: "stage", Err: err}
	}
	defer e.cleanup(ctx, logger, artifact)

	l, err := prepare(execID, artifact)
	if err != nil {
		e.metrics.RecordError("spawn")
		logger.Error().Err(err).Msg("preparing launch failed")
		return nil, &ExecutionError{ExecID: execID, Op: "prepare", Err: fmt.Errorf("%w: %v", ErrSpawn, err)}
	}

	runCtx, runSpan := e.tracer.StartSpan(ctx, "run",
		monitor.AttrExecID.String(execID),
		monitor.AttrCodeHash.String(codeHash[:16]),
		monitor.AttrBackend.String(e.backend),
	)
	outcome, err := e.run(runCtx, logger, l, timeout)
	if err != nil {
		runSpan.End()
		if errors.Is(err, ErrCanceled) {
			e.metrics.RecordError("canceled")
			logger.Info().Msg("caller went away, run killed")
		} else {
			e.metrics.RecordError("spawn")
			logger.Error().Err(err).Msg("interpreter run failed")
		}
		return nil, &ExecutionError{ExecID: execID, Op: "run", Err: err}
	}

	outcome.ID = execID
	outcome.CodeHash = codeHash
	classify(outcome, e.opts.Classification)

	runSpan.SetAttributes(
		monitor.AttrExitCode.Int(outcome.ExitCode),
		monitor.AttrStatus.String(string(outcome.Status())),
		monitor.AttrDurationMS.Int64(outcome.Duration.Milliseconds()),
	)
	runSpan.End()

	e.metrics.RecordRun(string(outcome.Status()), outcome.Duration.Seconds())
	e.metrics.RecordSizes(len(req.Code), len(outcome.Stdout)+len(outcome.Stderr))
	if outcome.Truncated {
		e.metrics.RecordTruncated()
	}

	logger.Info().
		Str("status", string(outcome.Status())).
		Int("exit_code", outcome.ExitCode).
		Dur("duration", outcome.Duration).
		Bool("truncated", outcome.Truncated).
		Msg("execution completed")

	return outcome, nil
}

// run spawns the launch and waits for it. The deadline clock starts once the
// child exists. Killing always targets the whole process group.
func (e *executor) run(ctx context.Context, logger zerolog.Logger, l *launch, timeout time.Duration) (*Outcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stdout := newCappedBuffer(e.opts.MaxOutputBytes)
	stderr := newCappedBuffer(e.opts.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, l.argv[0], l.argv[1:]...) // #nosec G204 -- argv is config plus a generated path
	cmd.Dir = l.dir
	cmd.Env = l.env
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.opts.KillGrace
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	start := time.Now()

	timer := time.AfterFunc(timeout, cancel)

	// Limits land a few microseconds after exec; the interpreter is still
	// starting up by then.
	if len(l.rlimits) > 0 {
		if err := applyRlimits(cmd.Process.Pid, l.rlimits); err != nil {
			logger.Warn().Err(err).Msg("could not apply rlimits")
		}
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)
	timedOut := deadlineExceeded(!timer.Stop(), duration, timeout)

	// Reap anything the child left behind in its group.
	if err := killGroup(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Debug().Err(err).Msg("group kill after exit")
	}

	killed := timedOut || ctx.Err() != nil
	if killed && l.onKill != nil {
		l.onKill()
	}
	if !timedOut && ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	}

	if waitErr != nil && !killed {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			logger.Warn().Err(waitErr).Msg("unexpected wait error")
		}
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = exitStatus(cmd.ProcessState)
	}

	if timedOut {
		logger.Warn().Dur("deadline", timeout).Msg("execution timed out, process group killed")
	} else if l.infraExit != nil && l.infraExit(exitCode) {
		logger.Error().
			Int("exit_code", exitCode).
			Str("stderr", firstLine(stderr.String())).
			Msg("launcher failed before the program ran")
		return nil, fmt.Errorf("%w: launcher exited with status %d", ErrSpawn, exitCode)
	}

	return &Outcome{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode,
		TimedOut:  timedOut,
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Deadline:  timeout,
		Duration:  duration,
	}, nil
}

// deadlineExceeded decides whether a finished run counts as timed out. The
// timer can fire after the child already exited on its own; only a run that
// lasted the full deadline is a timeout.
func deadlineExceeded(timerFired bool, ran, deadline time.Duration) bool {
	return timerFired && ran >= deadline
}

// firstLine returns the first line of s, capped for logging.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

// cleanup removes the artifact. Failures are the operator's problem and are
// never reported to the caller.
func (e *executor) cleanup(ctx context.Context, logger zerolog.Logger, a *Artifact) {
	_, span := e.tracer.StartSpan(context.WithoutCancel(ctx), "cleanup")
	defer span.End()

	if err := a.Remove(); err != nil {
		e.metrics.RecordCleanupFailure()
		span.RecordError(err)
		logger.Error().Err(err).Str("path", a.Path).Msg("failed to remove staged artifact")
	}
}

// drain waits for in-flight runs, giving up after timeout.
func (e *executor) drain(timeout time.Duration) {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Str("backend", e.backend).Msg("all executions drained")
	case <-time.After(timeout):
		log.Warn().Int64("active", e.active.Load()).Msg("timed out waiting for executions to drain")
	}
}
