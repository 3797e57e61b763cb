package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calluna-ai/calluna/pkg/resilience"
)

type fakeProvider struct {
	id    string
	errs  []error // consumed one per call; nil means success
	calls int
	reply string
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) Invoke(_ context.Context, _ string) (string, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if p.reply == "" {
		return p.id + "-ok", nil
	}
	return p.reply, nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want FailureKind
	}{
		{resilience.AuthError{Provider: "a"}, FailureAuth},
		{resilience.RateLimitError{Provider: "a"}, FailureRateLimit},
		{resilience.QuotaError{Provider: "a"}, FailureQuota},
		{resilience.TimeoutError{Provider: "a"}, FailureTimeout},
		{context.DeadlineExceeded, FailureTimeout},
		{errors.New("boom"), FailureUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestAuthFailureSkipsToNextProvider(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{resilience.AuthError{Provider: "a"}}}
	b := &fakeProvider{id: "b"}
	c := &fakeProvider{id: "c"}
	d := New("stt", []Provider[string, string]{a, b, c})

	out := d.Invoke(context.Background(), "audio")
	if out.Failed {
		t.Fatalf("dispatch failed: %v", out.Err)
	}
	if out.ProviderID != "b" || out.Value != "b-ok" {
		t.Fatalf("got %q from %q", out.Value, out.ProviderID)
	}
	if a.calls != 1 {
		t.Fatalf("auth failure retried: %d calls", a.calls)
	}
	if c.calls != 0 {
		t.Fatalf("third provider called after success")
	}
}

func TestAuthFailureMarksProviderUnusable(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{
		resilience.AuthError{Provider: "a", Message: "bad key"},
		resilience.AuthError{Provider: "a", Message: "bad key"},
	}}
	b := &fakeProvider{id: "b"}
	d := New("stt", []Provider[string, string]{a, b})

	for i := 0; i < 2; i++ {
		out := d.Invoke(context.Background(), "audio")
		if out.Failed || out.ProviderID != "b" {
			t.Fatalf("dispatch %d: %+v", i, out)
		}
	}
	if a.calls != 1 {
		t.Fatalf("dead-credential provider invoked %d times across dispatches, want 1", a.calls)
	}
}

func TestRateLimitFailsOverWithoutResubmit(t *testing.T) {
	a := &fakeProvider{id: "deepgram", errs: []error{resilience.RateLimitError{Provider: "deepgram"}}}
	b := &fakeProvider{id: "groq", reply: "transcript"}
	d := New("stt", []Provider[string, string]{a, b})

	out := d.Invoke(context.Background(), "audio")
	if out.Failed || out.Value != "transcript" {
		t.Fatalf("outcome: %+v", out)
	}
	if a.calls != 1 {
		t.Fatalf("rate-limited provider called %d times", a.calls)
	}
}

func TestTimeoutRetriesOnceOnSameProvider(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{resilience.TimeoutError{Provider: "a"}}}
	d := New("llm", []Provider[string, string]{a})

	out := d.Invoke(context.Background(), "prompt")
	if out.Failed {
		t.Fatalf("retry did not recover: %v", out.Err)
	}
	if a.calls != 2 {
		t.Fatalf("provider called %d times, want 2", a.calls)
	}
}

func TestTimeoutRetryThenFailover(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{
		resilience.TimeoutError{Provider: "a"},
		resilience.TimeoutError{Provider: "a"},
	}}
	b := &fakeProvider{id: "b"}
	d := New("llm", []Provider[string, string]{a, b})

	out := d.Invoke(context.Background(), "prompt")
	if out.Failed || out.ProviderID != "b" {
		t.Fatalf("outcome: %+v", out)
	}
	if a.calls != 2 {
		t.Fatalf("provider a called %d times, want 2", a.calls)
	}
}

func TestExhaustedYieldsUnknownFailure(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{resilience.AuthError{Provider: "a"}}}
	b := &fakeProvider{id: "b", errs: []error{resilience.QuotaError{Provider: "b"}}}
	d := New("tts", []Provider[string, string]{a, b})

	out := d.Invoke(context.Background(), "text")
	if !out.Failed || out.Kind != FailureUnknown {
		t.Fatalf("outcome: %+v", out)
	}
	if out.Retryable {
		t.Fatalf("terminal failure marked retryable")
	}
}

func TestTerminalFallback(t *testing.T) {
	a := &fakeProvider{id: "elevenlabs", errs: []error{resilience.QuotaError{Provider: "elevenlabs"}}}
	local := &fakeProvider{id: "local", reply: "canned-audio"}
	d := New("tts", []Provider[string, string]{a}, WithTerminalFallback[string, string](local))

	out := d.Invoke(context.Background(), "text")
	if out.Failed || out.ProviderID != "local" {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestCancelledContextStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeProvider{id: "a", errs: []error{resilience.TimeoutError{Provider: "a"}}}
	b := &fakeProvider{id: "b"}
	d := New("llm", []Provider[string, string]{a, b})

	out := d.Invoke(ctx, "prompt")
	if !out.Failed {
		t.Fatalf("expected failure on cancelled context")
	}
	if b.calls != 0 {
		t.Fatalf("failover attempted after cancellation")
	}
}

func TestBreakerSkipsOpenProvider(t *testing.T) {
	a := &fakeProvider{id: "a", errs: []error{
		resilience.RateLimitError{Provider: "a"},
		resilience.RateLimitError{Provider: "a"},
	}}
	b := &fakeProvider{id: "b"}
	d := New("stt", []Provider[string, string]{a, b},
		WithBreaker[string, string](2, time.Minute))

	// Two rate-limit failures open a's breaker.
	_ = d.Invoke(context.Background(), "x")
	_ = d.Invoke(context.Background(), "x")

	calls := a.calls
	out := d.Invoke(context.Background(), "x")
	if out.Failed || out.ProviderID != "b" {
		t.Fatalf("outcome: %+v", out)
	}
	if a.calls != calls {
		t.Fatalf("open breaker still let provider a through")
	}
}
