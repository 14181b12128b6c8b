//go:build !linux

package sandbox

import specs "github.com/opencontainers/runtime-spec/specs-go"

// applyRlimits is a no-op where prlimit(2) is unavailable.
func applyRlimits(int, []specs.POSIXRlimit) error { return nil }
