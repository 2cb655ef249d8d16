//go:build !unix

package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// lockFile creates path exclusively, polling until ctx is done. Unlike
// flock the file outlives a crashed holder and must then be removed by hand.
func lockFile(ctx context.Context, path string) (func(), error) {
	backoff := 5 * time.Millisecond
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}
