//go:build unix

package state

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func lockFile(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ENOLCK || err == unix.EOPNOTSUPP {
			return fmt.Errorf("%w: %v", ErrLockUnsupported, err)
		}
		if err != nil {
			return fmt.Errorf("flock state: %w", err)
		}
		return nil
	}
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
