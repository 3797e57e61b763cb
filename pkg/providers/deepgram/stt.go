// Package deepgram implements batch transcription and synthesis against the
// Deepgram REST API.
package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/calluna-ai/calluna/pkg/adapters/stt"
	"github.com/calluna-ai/calluna/pkg/errorsx"
	"github.com/calluna-ai/calluna/pkg/logging"
	"github.com/calluna-ai/calluna/pkg/resilience"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
}

// Transcriber sends one utterance worth of audio to the prerecorded
// transcription endpoint and returns the top alternative.
type Transcriber struct {
	cfg    Config
	api    *listenapi.Client
	logger *slog.Logger
}

func NewTranscriber(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Transcriber{
		cfg:    cfg,
		api:    listenapi.New(c),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) ID() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string) (stt.Transcript, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		SmartFormat: true,
	}

	start := time.Now()
	res, err := t.api.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		return stt.Transcript{}, errorsx.Wrap(classify(t.ID(), err), errorsx.ReasonSTTTranscribe)
	}
	latency := time.Since(start).Milliseconds()

	if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		t.logger.Debug("empty_transcription_response", "latency_ms", latency)
		return stt.Transcript{Confidence: 1.0, ProviderID: t.ID(), LatencyMS: latency}, nil
	}
	alt := res.Results.Channels[0].Alternatives[0]

	confidence := alt.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	t.logger.Debug("transcription_done",
		"latency_ms", latency,
		"chars", len(alt.Transcript))
	return stt.Transcript{
		Text:       alt.Transcript,
		Confidence: confidence,
		ProviderID: t.ID(),
		LatencyMS:  latency,
	}, nil
}

// classify maps SDK errors onto the failure taxonomy. The SDK folds the
// HTTP status into the error text, so match on that.
func classify(provider string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return resilience.AuthError{Provider: provider, Message: msg}
	case strings.Contains(msg, "429"):
		return resilience.RateLimitError{Provider: provider, Message: msg}
	case strings.Contains(msg, "402"):
		return resilience.QuotaError{Provider: provider, Message: msg}
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return resilience.TimeoutError{Provider: provider, Message: msg}
	}
	return fmt.Errorf("%s: %w", provider, err)
}

var _ stt.Transcriber = (*Transcriber)(nil)
