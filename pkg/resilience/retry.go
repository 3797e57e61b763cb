package resilience

import "time"

// RetryPolicy re-runs an operation after transient failures with a fixed
// backoff. Auth failures abort immediately: a rejected credential will not
// become valid on the next attempt.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do runs fn up to MaxRetries+1 times and returns the last error.
func (r RetryPolicy) Do(fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if IsAuth(err) || attempt == r.MaxRetries {
			return err
		}
		time.Sleep(r.Backoff)
	}
	return err
}
