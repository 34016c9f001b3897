package state

import (
	"errors"
	"fmt"
	"os"
)

// ErrLockUnsupported is returned by Lock on platforms without flock.
var ErrLockUnsupported = errors.New("state lock unsupported on this platform")

// Unlock releases a lock acquired with Lock. It is safe to call once.
type Unlock func()

// Lock takes the exclusive cross-process lock guarding the state file,
// blocking until it is available. The lock lives on dir/state.lock and is
// released by the returned Unlock or when the process exits.
func (s *Store) Lock() (Unlock, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		_ = unlockFile(f)
		_ = f.Close()
	}, nil
}
