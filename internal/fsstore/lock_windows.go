//go:build windows

package fsstore

import (
	"context"
	"fmt"
	"os"
)

// Windows has no flock. O_CREATE|O_EXCL on the lock file approximates an
// exclusive advisory lock; contention retries until ctx is done.
func withLockFile(ctx context.Context, lockPath string, fn func() error) error {
	for {
		f, err := os.OpenFile(lockPath+".x", os.O_CREATE|os.O_EXCL|os.O_RDWR, defaultFilePerm)
		if err == nil {
			defer func() {
				f.Close()
				_ = os.Remove(lockPath + ".x")
			}()
			return fn()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("%w: open %s: %v", ErrLockUnavailable, lockPath, err)
		}
		if waitErr := waitForLockRetry(ctx, lockPath); waitErr != nil {
			return waitErr
		}
	}
}
