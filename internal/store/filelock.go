package store

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"videosync/storage"
)

// FileLock is an advisory flock(2) lock on path + ".lock". Separate FileLock
// values on the same path exclude each other, including within one process.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a file lock. The lock is not acquired until Lock() is called.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Lock acquires an exclusive lock, polling until timeout.
// Returns ErrLockTimeout if the lock cannot be acquired within the timeout.
func (l *FileLock) Lock(timeout time.Duration) error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return &storage.StorageError{Op: "lock", Entity: "file", ID: l.path, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.file = file
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			file.Close()
			return &storage.StorageError{Op: "lock", Entity: "file", ID: l.path, Err: err}
		}
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	file.Close()
	return storage.ErrLockTimeout
}

// TryLock implements storage.Locker with a single non-blocking attempt.
func (l *FileLock) TryLock(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.Lock(0); err != nil {
		if errors.Is(err, storage.ErrLockTimeout) {
			return nil, storage.ErrLocked
		}
		return nil, err
	}
	return l.Unlock, nil
}

// Unlock releases the lock. The lock file is left in place so a waiting
// owner never locks an unlinked inode.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
