package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// MigrateLockFile - имя файла межпроцессной блокировки в каталоге баз.
const MigrateLockFile = ".migrate.lock"

const migrateLockRetry = 100 * time.Millisecond

// acquireMigrateLock захватывает advisory-блокировку каталога баз,
// чтобы два процесса не применяли миграции одновременно.
// timeout <= 0 означает ожидание до отмены ctx.
func acquireMigrateLock(ctx context.Context, dir string, timeout time.Duration) (func(), error) {
	fl := flock.New(filepath.Join(dir, MigrateLockFile))

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	locked, err := fl.TryLockContext(ctx, migrateLockRetry)
	if err != nil {
		return nil, fmt.Errorf("acquire migration lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("acquire migration lock %s: held by another process", fl.Path())
	}

	return func() { _ = fl.Unlock() }, nil
}
