package sandbox

import (
	"context"
	"os"
	"time"

	"simpleflow-sandbox/internal/monitor"
	"simpleflow-sandbox/internal/runtime"
)

// ProcessRunner runs the interpreter directly on the host as a child
// process in its own process group.
type ProcessRunner struct {
	*executor
}

func NewProcessRunner(rt runtime.Runtime, opts Options, metrics *monitor.Metrics) *ProcessRunner {
	return &ProcessRunner{executor: newExecutor("process", rt, opts, metrics)}
}

func (p *ProcessRunner) Execute(ctx context.Context, req ExecutionRequest) (*Outcome, error) {
	return p.execute(ctx, req, p.prepare)
}

func (p *ProcessRunner) prepare(_ string, a *Artifact) (*launch, error) {
	return &launch{
		argv:    p.rt.Command(a.Path),
		dir:     p.opts.ScratchDir,
		env:     passthroughEnv(p.opts.EnvPassthrough),
		rlimits: p.opts.Limits.Rlimits(),
	}, nil
}

func (p *ProcessRunner) Close() error {
	p.drain(30 * time.Second)
	return nil
}

// passthroughEnv copies only the allowlisted variables from the service's
// environment. The result is never nil, so exec does not fall back to
// inheriting everything.
func passthroughEnv(keys []string) []string {
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}
