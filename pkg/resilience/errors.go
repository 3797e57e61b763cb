package resilience

import "errors"

// AuthError signals a bad or missing credential. Dispatchers never retry it
// and mark the provider unusable for the rest of the session.
type AuthError struct {
	Provider string
	Message  string
}

func (e AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "authentication failed"
}

// RateLimitError represents a provider rate limit response.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// QuotaError signals an exhausted plan or spending cap.
type QuotaError struct {
	Provider string
	Message  string
}

func (e QuotaError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "quota exhausted"
}

// TimeoutError signals that a provider call exceeded its deadline.
type TimeoutError struct {
	Provider string
	Message  string
}

func (e TimeoutError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "timeout"
}

func IsAuth(err error) bool {
	var e AuthError
	return errors.As(err, &e)
}

func IsRateLimit(err error) bool {
	var e RateLimitError
	return errors.As(err, &e)
}

func IsQuota(err error) bool {
	var e QuotaError
	return errors.As(err, &e)
}

func IsTimeout(err error) bool {
	var e TimeoutError
	return errors.As(err, &e)
}
