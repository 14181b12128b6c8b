package sandbox

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"simpleflow-sandbox/internal/config"
	"simpleflow-sandbox/internal/monitor"
	"simpleflow-sandbox/internal/runtime"
)

// Backend executes one submission and reports its Outcome. Timeouts and
// failing programs are Outcomes, not errors; errors mean the run could not
// happen or its result is meaningless (see the Err* sentinels).
type Backend interface {
	Execute(ctx context.Context, req ExecutionRequest) (*Outcome, error)
	Name() string
	ActiveCount() int64
	Close() error
}

// OptionsFromConfig maps the sandbox section onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mode, err := ParseClassification(cfg.Sandbox.Classification)
	if err != nil {
		return Options{}, err
	}
	return Options{
		ScratchDir:     cfg.ScratchDir(),
		Timeout:        cfg.Sandbox.Timeout,
		MaxTimeout:     cfg.Sandbox.MaxTimeout,
		MaxConcurrent:  cfg.Sandbox.MaxConcurrent,
		QueueTimeout:   cfg.Sandbox.QueueTimeout,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		KillGrace:      cfg.Sandbox.KillGrace,
		Classification: mode,
		EnvPassthrough: cfg.Sandbox.EnvPassthrough,
		Limits:         LimitsFromConfig(cfg.Sandbox.Limits),
	}, nil
}

// NewBackend builds the backend named by sandbox.backend.
func NewBackend(cfg *config.Config, metrics *monitor.Metrics) (Backend, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	ic := cfg.Interpreter

	switch cfg.Sandbox.Backend {
	case "", "process":
		rt, err := runtime.NewInterpreter(ic.Name, ic.Command, ic.FileExtension,
			runtime.WithMaxCodeBytes(cfg.Sandbox.MaxCodeBytes))
		if err != nil {
			return nil, err
		}
		if err := rt.Available(); err != nil {
			log.Warn().Err(err).Msg("interpreter not found on PATH, runs will fail to spawn")
		}
		log.Info().Strs("command", ic.Command).Msg("using process backend")
		return NewProcessRunner(rt, opts, metrics), nil

	case "docker":
		dc := cfg.Sandbox.Docker
		rt, err := runtime.NewInterpreter(ic.Name, dc.Command, ic.FileExtension,
			runtime.WithImage(dc.Image),
			runtime.WithMaxCodeBytes(cfg.Sandbox.MaxCodeBytes))
		if err != nil {
			return nil, err
		}
		d, err := NewDockerRunner(rt, opts, DockerOptions{
			MemoryMB:  dc.MemoryMB,
			PidsLimit: dc.PidsLimit,
			CPUs:      dc.CPUs,
			Seccomp:   dc.Seccomp,
		}, metrics)
		if err != nil {
			return nil, err
		}
		log.Info().Str("image", dc.Image).Msg("using Docker backend")
		return d, nil

	default:
		return nil, fmt.Errorf("unknown backend %q: must be process or docker", cfg.Sandbox.Backend)
	}
}
