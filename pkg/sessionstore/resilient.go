package sessionstore

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Resilient fronts a primary store with a memory fallback. Any primary
// failure flips to degraded mode; a background probe restores the primary
// once it answers again. Sessions written while degraded live only in this
// replica, which is the accepted trade-off for staying up.
type Resilient struct {
	primary  Store
	fallback *MemoryStore
	degraded atomic.Bool
	probing  atomic.Bool
	closed   atomic.Bool
	done     chan struct{}
	logger   *slog.Logger

	// RetryInterval controls how often the primary is re-probed.
	RetryInterval time.Duration
}

func NewResilient(primary Store, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{
		primary:       primary,
		fallback:      NewMemoryStore(),
		done:          make(chan struct{}),
		logger:        logger.With("component", "sessionstore"),
		RetryInterval: 10 * time.Second,
	}
}

func (r *Resilient) Get(ctx context.Context, key string) ([]byte, error) {
	if r.degraded.Load() {
		return r.fallback.Get(ctx, key)
	}
	val, err := r.primary.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.degrade(err)
		return r.fallback.Get(ctx, key)
	}
	return val, err
}

func (r *Resilient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.degraded.Load() {
		return r.fallback.Set(ctx, key, value, ttl)
	}
	if err := r.primary.Set(ctx, key, value, ttl); err != nil {
		r.degrade(err)
		return r.fallback.Set(ctx, key, value, ttl)
	}
	return nil
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	if r.degraded.Load() {
		return r.fallback.Delete(ctx, key)
	}
	if err := r.primary.Delete(ctx, key); err != nil {
		r.degrade(err)
		return r.fallback.Delete(ctx, key)
	}
	return nil
}

func (r *Resilient) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		close(r.done)
	}
	_ = r.fallback.Close()
	return r.primary.Close()
}

// Degraded reports whether the store is running on the memory fallback.
func (r *Resilient) Degraded() bool { return r.degraded.Load() }

func (r *Resilient) degrade(err error) {
	if r.degraded.CompareAndSwap(false, true) {
		r.logger.Warn("store_degraded", "error", err)
		go r.probe()
	}
}

func (r *Resilient) probe() {
	if !r.probing.CompareAndSwap(false, true) {
		return
	}
	defer r.probing.Store(false)
	ticker := time.NewTicker(r.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := r.primary.Get(ctx, "health_probe")
		cancel()
		if err == nil || errors.Is(err, ErrNotFound) {
			r.degraded.Store(false)
			r.logger.Info("store_recovered")
			return
		}
	}
}

var _ Store = (*Resilient)(nil)
