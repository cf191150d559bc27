package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/utils"
)

// RetryPolicy bounds how often a conflicting transaction is replayed
type RetryPolicy struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries three times, backing off 100ms, 200ms, 400ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:    3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseBackoff << attempt
	if d > p.MaxBackoff || d <= 0 {
		return p.MaxBackoff
	}
	return d
}

// Postgres error codes for serialization_failure and deadlock_detected
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
	}
	return errors.Is(err, models.ErrSerializationConflict)
}

func withRetry(ctx context.Context, policy RetryPolicy, logger *utils.Logger, op func() error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = op()
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := policy.backoff(attempt)
		logger.Warn("transaction conflict, retrying",
			"attempt", attempt+1, "max_attempts", attempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if errors.Is(err, models.ErrSerializationConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrSerializationConflict, err)
}

func sortStrings(s []string) {
	sort.Strings(s)
}
