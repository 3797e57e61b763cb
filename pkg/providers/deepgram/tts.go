package deepgram

import (
	"context"
	"log/slog"
	"time"

	"github.com/calluna-ai/calluna/pkg/adapters/tts"
	"github.com/calluna-ai/calluna/pkg/errorsx"
	"github.com/calluna-ai/calluna/pkg/logging"

	speakapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speak "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"
)

type TTSConfig struct {
	APIKey string
	Model  string
	// Encoding/SampleRate default to telephony mu-law 8000.
	Encoding   string
	SampleRate int
}

// Synthesizer renders speech through the Aura speak endpoint, natively in
// the telephony wire format so no transcoding is needed.
type Synthesizer struct {
	cfg    TTSConfig
	api    *speakapi.Client
	logger *slog.Logger
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	if cfg.Model == "" {
		cfg.Model = "aura-asteria-en"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "mulaw"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	c := speak.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Synthesizer{
		cfg:    cfg,
		api:    speakapi.New(c),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_tts"),
	}
}

func (s *Synthesizer) ID() string { return "deepgram" }

func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	model := s.cfg.Model
	if voiceID != "" {
		model = voiceID
	}
	options := &interfaces.SpeakOptions{
		Model:      model,
		Encoding:   s.cfg.Encoding,
		SampleRate: s.cfg.SampleRate,
		Container:  "none",
	}

	start := time.Now()
	var buf interfaces.RawResponse
	if _, err := s.api.ToStream(ctx, text, options, &buf); err != nil {
		return tts.Audio{}, errorsx.Wrap(classify(s.ID(), err), errorsx.ReasonTTSSynthesize)
	}
	s.logger.Debug("synthesis_done",
		"latency_ms", time.Since(start).Milliseconds(),
		"bytes", buf.Len())
	return tts.Audio{
		Data:       buf.Bytes(),
		Encoding:   s.cfg.Encoding,
		SampleRate: s.cfg.SampleRate,
		ProviderID: s.ID(),
	}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
