// Package lockfile provides the advisory single-instance lock that keeps two
// collectors from writing into the same store.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
)

// DefaultName is the lock file created in the user's home directory.
const DefaultName = "fb2kstat.lock"

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("lock already held")

// Lock is an OS advisory lock on a file. The kernel drops it when the owning
// process exits, so a file left behind by a crashed collector is reusable.
// The zero value is not held.
type Lock struct {
	mu   sync.Mutex
	fl   *flock.Flock
	held bool
}

// DefaultPath returns ~/fb2kstat.lock.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultName), nil
}

// Acquire takes the lock on path without blocking and records the current
// PID in the file.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	// Informational only; ownership is the flock, not the file contents.
	_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)

	return &Lock{fl: fl, held: true}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Held reports whether the lock is still owned by this process.
func (l *Lock) Held() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Release drops the lock. The file stays on disk: unlinking it would let a
// waiter lock an orphaned inode. Releasing twice is a no-op.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.fl.Path(), err)
	}
	return nil
}
