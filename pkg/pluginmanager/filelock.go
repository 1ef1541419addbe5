package pluginmanager

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is an advisory, cross-process exclusive lock backed by
// flock(2) on a sidecar "plugins.lock.json.lock" file. Acquire fails
// fast rather than blocking, so two concurrent plugin operations never
// deadlock against one another.
type FileLock struct {
	file *os.File
}

// Acquire opens (creating if needed) path and takes a non-blocking
// exclusive flock. If another process holds it, returns an error
// immediately instead of waiting.
func Acquire(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pluginmanager: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("pluginmanager: another operation holds plugins.lock.json.lock: %w", err)
	}
	return &FileLock{file: f}, nil
}

// Release unlocks and closes the lock file.
func (l *FileLock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
