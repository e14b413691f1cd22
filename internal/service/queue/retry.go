package queue

import "time"

const (
	DefaultMaxRetry    = 3
	DefaultBackoffBase = 2 * time.Second
)

// RetryPolicy bounds attempts per job. MaxRetry counts failed attempts: a
// job is dispatched at most MaxRetry times.
type RetryPolicy struct {
	MaxRetry    int
	BackoffBase time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetry: DefaultMaxRetry, BackoffBase: DefaultBackoffBase}
}

// Backoff is the wait before the attempt following the retryCount-th failure:
// BackoffBase × 2^retryCount.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return p.BackoffBase << uint(retryCount)
}

// Next returns the job's new retry count after a failure and either the
// delay before its next attempt or permanent=true.
func (p RetryPolicy) Next(retryCount int) (next int, delay time.Duration, permanent bool) {
	next = retryCount + 1
	if next < p.MaxRetry {
		return next, p.Backoff(next), false
	}
	return next, 0, true
}
