package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestFromHTTPStatus(t *testing.T) {
	if err := FromHTTPStatus("p", 200, ""); err != nil {
		t.Fatalf("2xx should be nil, got %v", err)
	}
	if !IsAuth(FromHTTPStatus("p", 401, "no")) {
		t.Fatalf("401 should map to auth")
	}
	if !IsAuth(FromHTTPStatus("p", 403, "no")) {
		t.Fatalf("403 should map to auth")
	}
	if !IsRateLimit(FromHTTPStatus("p", 429, "slow down")) {
		t.Fatalf("429 should map to rate limit")
	}
	if !IsQuota(FromHTTPStatus("p", 402, "pay up")) {
		t.Fatalf("402 should map to quota")
	}
	if !IsTimeout(FromHTTPStatus("p", 504, "late")) {
		t.Fatalf("504 should map to timeout")
	}
	err := FromHTTPStatus("p", 500, "boom")
	if err == nil || IsAuth(err) || IsRateLimit(err) || IsQuota(err) || IsTimeout(err) {
		t.Fatalf("500 should be an untyped error, got %v", err)
	}
}

func TestCircuitBreakerTripsOnRateLimit(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	if !cb.Allow() {
		t.Fatalf("new breaker should allow")
	}
	cb.OnError(RateLimitError{Provider: "p"})
	if !cb.Allow() {
		t.Fatalf("breaker tripped below threshold")
	}
	cb.OnError(QuotaError{Provider: "p"})
	if cb.Allow() {
		t.Fatalf("breaker should be open after threshold")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatalf("breaker should reset on success")
	}
}

func TestCircuitBreakerIgnoresOtherErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.OnError(errors.New("plain failure"))
	cb.OnError(AuthError{Provider: "p"})
	if !cb.Allow() {
		t.Fatalf("non rate-limit errors must not trip the breaker")
	}
}

func TestRetryPolicyStopsAfterMax(t *testing.T) {
	p := NewRetryPolicy(2, time.Millisecond)
	attempts := 0
	err := p.Do(func() error {
		attempts++
		return errors.New("nope")
	})
	if err == nil {
		t.Fatalf("expected final error")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryPolicyReturnsFirstSuccess(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	attempts := 0
	err := p.Do(func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryPolicyDoesNotRetryAuth(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	attempts := 0
	err := p.Do(func() error {
		attempts++
		return AuthError{Provider: "p", Message: "bad key"}
	})
	if !IsAuth(err) {
		t.Fatalf("expected auth error surfaced, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("auth failure must not be retried, got %d attempts", attempts)
	}
}
