package stt

import (
	"context"

	"github.com/calluna-ai/calluna/pkg/dispatch"
)

// Transcript is the result of one transcription. Confidence is
// provider-reported, defaulted to 1.0 when the vendor does not supply one.
type Transcript struct {
	Text       string
	Confidence float64
	ProviderID string
	LatencyMS  int64
}

// Request carries one utterance worth of audio to a transcription vendor.
type Request struct {
	Audio       []byte
	ContentType string
}

// Transcriber defines the contract for any STT vendor implementation.
type Transcriber interface {
	// ID returns the provider name for logging/metrics.
	ID() string
	// Transcribe converts audio bytes into a transcript.
	Transcribe(ctx context.Context, audio []byte, contentType string) (Transcript, error)
}

type provider struct {
	t Transcriber
}

func (p provider) ID() string { return p.t.ID() }

func (p provider) Invoke(ctx context.Context, req Request) (Transcript, error) {
	return p.t.Transcribe(ctx, req.Audio, req.ContentType)
}

// NewDispatcher builds the transcribe dispatcher over an ordered vendor list.
func NewDispatcher(transcribers []Transcriber, opts ...dispatch.Option[Request, Transcript]) *dispatch.Dispatcher[Request, Transcript] {
	providers := make([]dispatch.Provider[Request, Transcript], 0, len(transcribers))
	for _, t := range transcribers {
		providers = append(providers, provider{t: t})
	}
	return dispatch.New("stt", providers, opts...)
}
