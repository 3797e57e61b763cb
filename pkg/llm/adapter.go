package llm

import (
	"context"

	"github.com/calluna-ai/calluna/pkg/dispatch"
)

// Message is one entry of the conversation sent to a model.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Reply is a completed model response.
type Reply struct {
	Text         string
	FinishReason string
	ProviderID   string
}

// Request carries the ordered message list for one turn. OnDelta, when set,
// is called with each streamed token as it arrives; the full text is still
// returned in the Reply. Tokens from a provider that later fails are never
// surfaced to the caller's output path, only to OnDelta for timing.
type Request struct {
	Messages []Message
	OnDelta  func(delta string)
}

// Generator defines the contract for any LLM vendor implementation.
type Generator interface {
	// ID returns the provider name for logging/metrics.
	ID() string
	// Generate returns the whole response at once.
	Generate(ctx context.Context, messages []Message) (Reply, error)
	// Stream emits response tokens on the returned channel. The channel is
	// closed when the response completes or ctx is cancelled.
	Stream(ctx context.Context, messages []Message) (<-chan string, error)
}

type provider struct {
	g Generator
}

func (p provider) ID() string { return p.g.ID() }

func (p provider) Invoke(ctx context.Context, req Request) (Reply, error) {
	if req.OnDelta == nil {
		return p.g.Generate(ctx, req.Messages)
	}
	ch, err := p.g.Stream(ctx, req.Messages)
	if err != nil {
		return Reply{}, err
	}
	var text []byte
	for delta := range ch {
		req.OnDelta(delta)
		text = append(text, delta...)
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	return Reply{Text: string(text), FinishReason: "stop", ProviderID: p.g.ID()}, nil
}

// NewDispatcher builds the generate dispatcher over an ordered vendor list.
func NewDispatcher(generators []Generator, opts ...dispatch.Option[Request, Reply]) *dispatch.Dispatcher[Request, Reply] {
	providers := make([]dispatch.Provider[Request, Reply], 0, len(generators))
	for _, g := range generators {
		providers = append(providers, provider{g: g})
	}
	return dispatch.New("llm", providers, opts...)
}
