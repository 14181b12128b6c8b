package sandbox

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"simpleflow-sandbox/internal/config"
)

// ResourceLimits are per-child rlimits. Zero leaves a limit at the
// service's own value, except core dumps which are always disabled.
type ResourceLimits struct {
	OpenFiles  uint64 `json:"open_files"`
	CPUSeconds uint64 `json:"cpu_seconds"`
	MemoryMB   uint64 `json:"memory_mb"` // address space
	Processes  uint64 `json:"processes"`
	FileSizeMB uint64 `json:"file_size_mb"`
}

func LimitsFromConfig(c config.LimitsConfig) ResourceLimits {
	return ResourceLimits{
		OpenFiles:  c.OpenFiles,
		CPUSeconds: c.CPUSeconds,
		MemoryMB:   c.MemoryMB,
		Processes:  c.Processes,
		FileSizeMB: c.FileSizeMB,
	}
}

// Rlimits describes the limits in OCI runtime-spec form.
func (rl ResourceLimits) Rlimits() []specs.POSIXRlimit {
	out := []specs.POSIXRlimit{{Type: "RLIMIT_CORE", Hard: 0, Soft: 0}}
	add := func(typ string, v uint64) {
		if v > 0 {
			out = append(out, specs.POSIXRlimit{Type: typ, Hard: v, Soft: v})
		}
	}
	add("RLIMIT_NOFILE", rl.OpenFiles)
	add("RLIMIT_CPU", rl.CPUSeconds)
	add("RLIMIT_AS", rl.MemoryMB<<20)
	add("RLIMIT_NPROC", rl.Processes)
	add("RLIMIT_FSIZE", rl.FileSizeMB<<20)
	return out
}

// dockerUlimitNames maps rlimit types onto `docker run --ulimit` names.
// Address space and process count are left to --memory and --pids-limit.
var dockerUlimitNames = map[string]string{
	"RLIMIT_CORE":   "core",
	"RLIMIT_NOFILE": "nofile",
	"RLIMIT_CPU":    "cpu",
	"RLIMIT_FSIZE":  "fsize",
}

// DockerUlimits renders the limits as repeated --ulimit flags.
func (rl ResourceLimits) DockerUlimits() []string {
	var args []string
	for _, r := range rl.Rlimits() {
		name, ok := dockerUlimitNames[r.Type]
		if !ok {
			continue
		}
		args = append(args, "--ulimit", fmt.Sprintf("%s=%d:%d", name, r.Soft, r.Hard))
	}
	return args
}
