package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// cacheLock holds an exclusive advisory lock on the package-cache
// directory (spec §5) for the lifetime of one build invocation, the way
// concurrent distri/cargo processes avoid corrupting a shared download
// cache. Grounded on the teacher's general unix.* syscall usage
// (cmd/zi/zi.go, cmd/minitrd/kmod.go) for wiring raw flock semantics
// rather than a third-party file-locking library, since golang.org/x/sys
// already covers it.
type cacheLock struct {
	f *os.File
}

// acquireCacheLock opens (creating if needed) a lock file under dir and
// takes an exclusive, non-blocking flock on it, returning an error naming
// the directory if another process already holds it.
func acquireCacheLock(dir string) (*cacheLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cache lock: %w", err)
	}
	path := dir + "/.forge-lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("cache lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("cache lock: %s is held by another forge process: %w", path, err)
	}
	return &cacheLock{f: f}, nil
}

// Release drops the lock and closes the underlying file.
func (l *cacheLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
