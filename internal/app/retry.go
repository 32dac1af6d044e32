package app

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"trivia-live-service/internal/domain"
)

// RetryPolicy bounds the optimistic read-modify-write loop.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries three times with 10-50ms of jitter between attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinBackoff:  10 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
	}
}

var (
	jitterMu  sync.Mutex
	jitterRnd = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func (p RetryPolicy) backoff() time.Duration {
	if p.MaxBackoff <= p.MinBackoff {
		return p.MinBackoff
	}
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return p.MinBackoff + time.Duration(jitterRnd.Int63n(int64(p.MaxBackoff-p.MinBackoff)))
}

// withRetry runs op until it succeeds, fails with something other than a
// version conflict, or the attempt budget runs out. op must re-read whatever
// state it mutates on every call.
func withRetry[T any](ctx context.Context, policy RetryPolicy, onConflict func(attempt int), op func(ctx context.Context) (T, error)) (T, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return zero, err
		}
		lastErr = err
		if onConflict != nil {
			onConflict(attempt)
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(policy.backoff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
