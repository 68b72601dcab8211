//go:build linux

package sandbox

import "golang.org/x/sys/unix"

// applyMemoryLimit caps the address space of a running process.
func applyMemoryLimit(pid int, limit uint64) error {
	rlim := &unix.Rlimit{Cur: limit, Max: limit}
	return unix.Prlimit(pid, unix.RLIMIT_AS, rlim, nil)
}
