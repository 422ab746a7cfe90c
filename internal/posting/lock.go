package posting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when another process holds the journal lock.
var ErrLocked = errors.New("journal is locked by another process")

const lockPollInterval = 50 * time.Millisecond

// FileLock is an advisory exclusive lock on a file.
type FileLock struct {
	f *os.File
}

// AcquireLock takes the exclusive lock at path. With wait false it fails
// immediately with ErrLocked when the lock is held; otherwise it retries
// until ctx is done.
func AcquireLock(ctx context.Context, path string, wait bool) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	for {
		err := tryLock(f)
		if err == nil {
			return &FileLock{f: f}, nil
		}
		if !errors.Is(err, ErrLocked) || !wait {
			f.Close()
			return nil, err
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("waiting for journal lock: %w", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// Release drops the lock. The lock file itself is left in place.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
