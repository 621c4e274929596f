package scheduler

import "time"

// RetryPolicy retries a failed job at most once, after a fixed delay, and
// only for transient-class failures. There is no backoff schedule beyond the
// single delay.
type RetryPolicy struct {
	Delay time.Duration
}

func (p RetryPolicy) ShouldRetry(f *Failure) bool {
	return f != nil && f.Transient()
}
