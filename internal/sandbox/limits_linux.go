//go:build linux

package sandbox

import (
	"errors"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

var rlimitResources = map[string]int{
	"RLIMIT_CORE":   unix.RLIMIT_CORE,
	"RLIMIT_NOFILE": unix.RLIMIT_NOFILE,
	"RLIMIT_CPU":    unix.RLIMIT_CPU,
	"RLIMIT_AS":     unix.RLIMIT_AS,
	"RLIMIT_NPROC":  unix.RLIMIT_NPROC,
	"RLIMIT_FSIZE":  unix.RLIMIT_FSIZE,
}

// applyRlimits sets limits on an already running process. Children it forks
// afterwards inherit them.
func applyRlimits(pid int, limits []specs.POSIXRlimit) error {
	var errs []error
	for _, l := range limits {
		res, ok := rlimitResources[l.Type]
		if !ok {
			errs = append(errs, fmt.Errorf("unsupported rlimit %s", l.Type))
			continue
		}
		rl := unix.Rlimit{Cur: l.Soft, Max: l.Hard}
		if err := unix.Prlimit(pid, res, &rl, nil); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Type, err))
		}
	}
	return errors.Join(errs...)
}
