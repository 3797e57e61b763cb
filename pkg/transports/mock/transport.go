// Package mock is an in-memory transport for tests and local runs. Inbound
// frames are injected with Push; outbound frames are recorded and can be
// inspected without draining a channel.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/calluna-ai/calluna/pkg/frames"
	"github.com/calluna-ai/calluna/pkg/transports"
)

type Transport struct {
	recvCh chan frames.Frame
	closed atomic.Bool

	mu   sync.Mutex
	sent []frames.Frame
}

func New() *Transport {
	return &Transport{recvCh: make(chan frames.Frame, 256)}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		close(t.recvCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) Send(f frames.Frame) error {
	t.mu.Lock()
	t.sent = append(t.sent, f)
	t.mu.Unlock()
	return nil
}

// Push injects an inbound frame into the transport.
func (t *Transport) Push(f frames.Frame) {
	if t.closed.Load() {
		return
	}
	select {
	case t.recvCh <- f:
	default:
	}
}

// Sent returns a copy of every outbound frame seen so far.
func (t *Transport) Sent() []frames.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]frames.Frame(nil), t.sent...)
}

// SentControls filters outbound frames down to control frames of one code.
func (t *Transport) SentControls(code frames.ControlCode) []frames.ControlFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []frames.ControlFrame
	for _, f := range t.sent {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == code {
			out = append(out, cf)
		}
	}
	return out
}

var _ transports.Transport = (*Transport)(nil)
