package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by Lock when another process already owns the
// dataset root.
var ErrLocked = errors.New("dataset is locked by another run")

// DatasetLock is an exclusive advisory lock on a dataset root.
type DatasetLock struct {
	fl *flock.Flock
}

// LockPath returns the lock file used for root: a sibling "<root>.lock", so
// the frame listing is never polluted.
func LockPath(root string) string {
	clean := filepath.Clean(root)
	return clean + ".lock"
}

// Lock takes an exclusive lock on root without blocking. The parent of root
// is created if necessary.
func Lock(root string) (*DatasetLock, error) {
	path := LockPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &DatasetLock{fl: fl}, nil
}

// Unlock releases the lock. The lock file is left in place.
func (l *DatasetLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
