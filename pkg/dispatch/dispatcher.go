package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calluna-ai/calluna/pkg/metrics"
	"github.com/calluna-ai/calluna/pkg/resilience"
)

// Provider is one vendor implementation of a capability.
type Provider[Req, Resp any] interface {
	ID() string
	Invoke(ctx context.Context, req Req) (Resp, error)
}

// Option configures a Dispatcher.
type Option[Req, Resp any] func(*Dispatcher[Req, Resp])

// WithTerminalFallback installs a provider that is tried after the ordered
// list is exhausted. Used by synthesis so a turn always produces audio.
func WithTerminalFallback[Req, Resp any](p Provider[Req, Resp]) Option[Req, Resp] {
	return func(d *Dispatcher[Req, Resp]) { d.terminal = p }
}

// WithObserver attaches a metrics sink for provider failure events.
func WithObserver[Req, Resp any](obs metrics.Observer) Option[Req, Resp] {
	return func(d *Dispatcher[Req, Resp]) { d.obs = obs }
}

// WithBreaker fronts each provider with a circuit breaker that opens after
// threshold rate-limit or quota failures.
func WithBreaker[Req, Resp any](threshold int, cooldown time.Duration) Option[Req, Resp] {
	return func(d *Dispatcher[Req, Resp]) {
		d.breakers = make(map[string]*resilience.CircuitBreaker, len(d.providers))
		for _, p := range d.providers {
			d.breakers[p.ID()] = resilience.NewCircuitBreaker(threshold, cooldown)
		}
	}
}

// Dispatcher tries providers in configured order until one succeeds.
// Partial output is never mixed across providers: a failed attempt is
// discarded wholesale and the next provider starts from the same request.
type Dispatcher[Req, Resp any] struct {
	capability string
	providers  []Provider[Req, Resp]
	terminal   Provider[Req, Resp]
	breakers   map[string]*resilience.CircuitBreaker
	obs        metrics.Observer
	log        *slog.Logger

	// authDead holds providers whose credential was rejected. They stay
	// excluded for the dispatcher's lifetime.
	mu       sync.Mutex
	authDead map[string]bool
}

func New[Req, Resp any](capability string, providers []Provider[Req, Resp], opts ...Option[Req, Resp]) *Dispatcher[Req, Resp] {
	d := &Dispatcher[Req, Resp]{
		capability: capability,
		providers:  providers,
		obs:        metrics.NoopObserver{},
		log:        slog.Default().With("component", "dispatch", "capability", capability),
		authDead:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Invoke walks the provider list. auth, quota, and rate_limit failures skip
// straight to the next provider; a timeout gets one retry on the same
// provider before failing over. Exhausting every provider, including any
// terminal fallback, yields a Failure with kind unknown.
func (d *Dispatcher[Req, Resp]) Invoke(ctx context.Context, req Req) Outcome[Resp] {
	var lastErr error
	lastProvider := ""

	for _, p := range d.providers {
		if d.isAuthDead(p.ID()) {
			d.log.Warn("provider_skipped", "provider", p.ID(), "reason", "auth_rejected")
			continue
		}
		if br := d.breakers[p.ID()]; br != nil && !br.Allow() {
			d.log.Warn("provider_skipped", "provider", p.ID(), "reason", "breaker_open")
			continue
		}
		out, err := d.attempt(ctx, p, req)
		if err == nil {
			return out
		}
		if ctx.Err() != nil {
			return Failure[Resp](FailureTimeout, p.ID(), ctx.Err())
		}
		lastErr, lastProvider = err, p.ID()
	}

	if d.terminal != nil {
		out, err := d.attempt(ctx, d.terminal, req)
		if err == nil {
			return out
		}
		lastErr, lastProvider = err, d.terminal.ID()
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%s: no providers configured", d.capability)
	}
	return Failure[Resp](FailureUnknown, lastProvider, fmt.Errorf("%s: all providers exhausted: %w", d.capability, lastErr))
}

func (d *Dispatcher[Req, Resp]) attempt(ctx context.Context, p Provider[Req, Resp], req Req) (Outcome[Resp], error) {
	resp, latency, err := d.call(ctx, p, req)
	if err == nil {
		return Success(resp, p.ID(), latency), nil
	}

	kind := Classify(err)
	d.reportFailure(p.ID(), kind, err)
	if kind == FailureAuth {
		d.markAuthDead(p.ID())
	}
	if kind == FailureTimeout && ctx.Err() == nil {
		resp, latency, err = d.call(ctx, p, req)
		if err == nil {
			return Success(resp, p.ID(), latency), nil
		}
		d.reportFailure(p.ID(), Classify(err), err)
	}
	var zero Outcome[Resp]
	return zero, err
}

func (d *Dispatcher[Req, Resp]) call(ctx context.Context, p Provider[Req, Resp], req Req) (Resp, int64, error) {
	start := time.Now()
	resp, err := p.Invoke(ctx, req)
	latency := time.Since(start).Milliseconds()
	if br := d.breakers[p.ID()]; br != nil {
		if err != nil {
			br.OnError(err)
		} else {
			br.OnSuccess()
		}
	}
	return resp, latency, err
}

func (d *Dispatcher[Req, Resp]) isAuthDead(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.authDead[id]
}

func (d *Dispatcher[Req, Resp]) markAuthDead(id string) {
	d.mu.Lock()
	d.authDead[id] = true
	d.mu.Unlock()
}

func (d *Dispatcher[Req, Resp]) reportFailure(providerID string, kind FailureKind, err error) {
	d.log.Warn("provider_failed", "provider", providerID, "kind", string(kind), "error", err)
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventProviderFail,
		Time: time.Now(),
		Tags: map[string]string{
			"capability": d.capability,
			"provider":   providerID,
			"kind":       string(kind),
		},
	})
}
