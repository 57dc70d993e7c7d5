//go:build unix

package cookerfsm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is an OS-level advisory exclusive lock acquired via flock(2).
type fileLock struct {
	f *os.File
}

func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening build lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquiring exclusive lock on %s: %w (another cooker is already running in this build directory)", path, err)
	}
	return &fileLock{f: f}, nil
}

// Release unlocks and closes the lock file. Safe to call once on every
// exit path, including after a panic recovers.
func (l *fileLock) Release() error {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
