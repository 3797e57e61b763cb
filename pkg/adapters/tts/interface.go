package tts

import (
	"context"

	"github.com/calluna-ai/calluna/pkg/dispatch"
)

// Audio is synthesized speech ready for playback. Encoding names the wire
// format of Data, e.g. "mulaw" for 8kHz G.711.
type Audio struct {
	Data       []byte
	Encoding   string
	SampleRate int
	ProviderID string
}

// Request carries one reply's text to a synthesis vendor.
type Request struct {
	Text    string
	VoiceID string
}

// Synthesizer defines the contract for any TTS vendor implementation.
type Synthesizer interface {
	// ID returns the provider name for logging/metrics.
	ID() string
	// Synthesize converts text into playable audio bytes.
	Synthesize(ctx context.Context, text, voiceID string) (Audio, error)
}

type provider struct {
	s Synthesizer
}

func (p provider) ID() string { return p.s.ID() }

func (p provider) Invoke(ctx context.Context, req Request) (Audio, error) {
	return p.s.Synthesize(ctx, req.Text, req.VoiceID)
}

// NewDispatcher builds the synthesize dispatcher. fallback, when non-nil, is
// the always-available local synthesizer tried after every paid vendor
// fails; a turn then still produces audio.
func NewDispatcher(synthesizers []Synthesizer, fallback Synthesizer, opts ...dispatch.Option[Request, Audio]) *dispatch.Dispatcher[Request, Audio] {
	providers := make([]dispatch.Provider[Request, Audio], 0, len(synthesizers))
	for _, s := range synthesizers {
		providers = append(providers, provider{s: s})
	}
	if fallback != nil {
		opts = append(opts, dispatch.WithTerminalFallback[Request, Audio](provider{s: fallback}))
	}
	return dispatch.New("tts", providers, opts...)
}
