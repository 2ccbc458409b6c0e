package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// =============================================================================
// TRANSACTION RUNNER - Optimistic retry around Store.WithTx
// =============================================================================

const (
	defaultMaxTxAttempts = 8
	txBackoffBase        = 5 * time.Millisecond
	txBackoffCap         = 200 * time.Millisecond
)

// runTx executes fn in a store transaction, re-running the whole closure when
// the store reports a conflicting concurrent write. fn must derive all writes
// from what it reads through tx so that a re-run observes the winner's state.
//
// Conflicts that outlive maxAttempts surface as KindInternal. Every other
// error is returned as produced by fn or translated from a store sentinel.
func (s *Service) runTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	attempts := s.maxTxAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := retry.NewExponential(txBackoffBase)
	backoff = retry.WithCappedDuration(txBackoffCap, backoff)
	backoff = retry.WithJitterPercent(25, backoff)
	backoff = retry.WithMaxRetries(uint64(attempts-1), backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.store.WithTx(ctx, fn)
		if IsRetryable(err) {
			s.observer.TxConflict(op)
			s.log.Warn(s.log.WithFields(ctx, map[string]any{
				"op":      op,
				"attempt": attempt,
			}), "ledger.tx.conflict")
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return nil
	case IsRetryable(err):
		return internal(err, op+": concurrent update retries exhausted")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return internal(err, op+": aborted")
	default:
		return translateStoreError(err, op)
	}
}
