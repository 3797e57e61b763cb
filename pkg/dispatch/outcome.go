// Package dispatch runs one capability (transcribe, generate, synthesize)
// against an ordered provider list, classifying failures and failing over.
package dispatch

import (
	"context"
	"errors"
	"net"

	"github.com/calluna-ai/calluna/pkg/resilience"
)

// FailureKind is the uniform error taxonomy shared by every provider.
type FailureKind string

const (
	FailureAuth      FailureKind = "auth"
	FailureRateLimit FailureKind = "rate_limit"
	FailureQuota     FailureKind = "quota"
	FailureTimeout   FailureKind = "timeout"
	FailureUnknown   FailureKind = "unknown"
)

// Outcome is the tagged result of one dispatch. Either Value is set and
// Failed is false, or Kind/Err describe the terminal failure.
type Outcome[T any] struct {
	Value      T
	ProviderID string
	LatencyMS  int64
	Failed     bool
	Kind       FailureKind
	Retryable  bool
	Err        error
}

func Success[T any](value T, providerID string, latencyMS int64) Outcome[T] {
	return Outcome[T]{Value: value, ProviderID: providerID, LatencyMS: latencyMS}
}

func Failure[T any](kind FailureKind, providerID string, err error) Outcome[T] {
	return Outcome[T]{
		Failed:     true,
		Kind:       kind,
		ProviderID: providerID,
		Retryable:  kind == FailureTimeout,
		Err:        err,
	}
}

// Classify maps a provider error onto the failure taxonomy.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureUnknown
	case resilience.IsAuth(err):
		return FailureAuth
	case resilience.IsRateLimit(err):
		return FailureRateLimit
	case resilience.IsQuota(err):
		return FailureQuota
	case resilience.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	return FailureUnknown
}
