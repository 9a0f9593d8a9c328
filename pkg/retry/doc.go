// Package retry provides retry logic with exponential backoff and jitter.
//
// The caller decides which errors are worth another attempt:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    _, err := conn.ExecContext(ctx, "PRAGMA journal_mode = WAL")
//	    return err
//	}, isBusy)
//
// Errors rejected by the predicate are returned unchanged; exhausted budgets
// return *RetriesExceededError, which unwraps to the last attempt's error.
// Now and After can be replaced in tests to run without real sleeps.
package retry
