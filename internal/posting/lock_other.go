//go:build !unix

package posting

import (
	"os"
	"sync"
)

// Without flock the lock only excludes other users in this process.
var held sync.Map

func tryLock(f *os.File) error {
	if _, loaded := held.LoadOrStore(f.Name(), struct{}{}); loaded {
		return ErrLocked
	}
	return nil
}

func unlock(f *os.File) error {
	held.Delete(f.Name())
	return nil
}
