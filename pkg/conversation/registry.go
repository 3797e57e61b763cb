package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/calluna-ai/calluna/pkg/frames"
)

// Registry fans frames from the transport out to per-call orchestrators.
// Calls are keyed by stream id; an orchestrator is spun up on call_start and
// torn down when its Run loop exits.
type Registry struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu    sync.Mutex
	calls map[string]*Orchestrator
	wg    sync.WaitGroup
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:   cfg,
		deps:  deps,
		log:   log,
		calls: make(map[string]*Orchestrator),
	}
}

// Run routes inbound frames until the transport's channel closes or the
// context ends.
func (r *Registry) Run(ctx context.Context) error {
	recv := r.deps.Transport.Recv()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-recv:
			if !ok {
				return nil
			}
			r.route(ctx, f)
		}
	}
}

func (r *Registry) route(ctx context.Context, f frames.Frame) {
	streamID := f.Meta()[frames.MetaStreamID]
	if streamID == "" {
		r.log.Debug("frame_without_stream", "kind", string(f.Kind()))
		return
	}

	if sys, ok := f.(frames.SystemFrame); ok && sys.Name() == "call_start" {
		r.startCall(ctx, streamID, sys)
		return
	}

	r.mu.Lock()
	orch := r.calls[streamID]
	r.mu.Unlock()
	if orch == nil {
		if f.Kind() != frames.KindAudio {
			r.log.Debug("frame_for_unknown_stream", "stream_id", streamID, "kind", string(f.Kind()))
		}
		return
	}
	orch.Enqueue(f)
}

func (r *Registry) startCall(ctx context.Context, streamID string, sys frames.SystemFrame) {
	r.mu.Lock()
	if _, exists := r.calls[streamID]; exists {
		r.mu.Unlock()
		r.log.Warn("duplicate_call_start", "stream_id", streamID)
		return
	}
	meta := sys.Meta()
	callSID := meta[frames.MetaCallSID]
	sessionID := callSID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess := NewCallSession(sessionID, meta[frames.MetaVendor], streamID, callSID,
		meta[frames.MetaFromNumber], r.cfg.MaxTurnHistory)
	deps := r.deps
	if deps.NewArbiter != nil {
		deps.Arbiter = deps.NewArbiter()
	}
	orch := NewOrchestrator(r.cfg, deps, sess)
	r.calls[streamID] = orch
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		orch.Run(ctx)
		r.remove(streamID)
	}()
	orch.Enqueue(sys)
}

func (r *Registry) remove(streamID string) {
	r.mu.Lock()
	delete(r.calls, streamID)
	r.mu.Unlock()
}

// ActiveCalls reports the number of calls currently routed.
func (r *Registry) ActiveCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Drain stops every active orchestrator and waits for their loops to exit.
func (r *Registry) Drain() error {
	r.mu.Lock()
	active := make([]*Orchestrator, 0, len(r.calls))
	for _, orch := range r.calls {
		active = append(active, orch)
	}
	r.mu.Unlock()
	for _, orch := range active {
		orch.Stop()
	}
	r.wg.Wait()
	return nil
}
