package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
)

// Lock is an exclusive advisory lock on one workflow instance. It lives on
// the OS filesystem because flock needs a real descriptor.
type Lock struct {
	key      string
	lockFile *os.File
	lockPath string
}

// AcquireLock takes an exclusive, non-blocking lock for key inside dir.
// A second executor for the same instance gets a STATE_003 error.
func AcquireLock(dir, key string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, flowerrors.IOWriteError(dir, err)
	}
	lockPath := filepath.Join(dir, key+".lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, flowerrors.IOWriteError(lockPath, fmt.Errorf("opening lock file: %w", err))
	}

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, flowerrors.Wrapf(flowerrors.CodeStateLocked, err,
			"workflow instance %s is already being executed (lock held)", key).
			WithDetail("state_key", key)
	}

	return &Lock{
		key:      key,
		lockFile: lockFile,
		lockPath: lockPath,
	}, nil
}

// IsLocked reports whether another process holds the lock for key.
func IsLocked(dir, key string) bool {
	lockFile, err := os.OpenFile(filepath.Join(dir, key+".lock"), os.O_RDWR, 0644)
	if err != nil {
		return false // No lock file = not locked
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return true
	}
	syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	return false
}

// Release releases the lock and removes the lock file.
func (l *Lock) Release() error {
	if l.lockFile == nil {
		return nil
	}
	syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	err := l.lockFile.Close()
	l.lockFile = nil
	os.Remove(l.lockPath) // best effort
	return err
}
