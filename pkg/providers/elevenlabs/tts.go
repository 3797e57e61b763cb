// Package elevenlabs implements text-to-speech against the ElevenLabs
// streaming HTTP endpoint, requesting telephony-native ulaw_8000 output.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/calluna-ai/calluna/pkg/adapters/tts"
	"github.com/calluna-ai/calluna/pkg/errorsx"
	"github.com/calluna-ai/calluna/pkg/logging"
	"github.com/calluna-ai/calluna/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
}

type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewSynthesizer(cfg Config) *Synthesizer {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *Synthesizer) ID() string { return "elevenlabs" }

func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	if voiceID == "" {
		voiceID = s.cfg.VoiceID
	}
	if voiceID == "" {
		return tts.Audio{}, errors.New("missing elevenlabs voice id")
	}

	payload := map[string]any{
		"text":     text,
		"model_id": s.cfg.ModelID,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return tts.Audio{}, err
	}

	q := url.Values{}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	endpoint := s.cfg.BaseURL + "/text-to-speech/" + voiceID + "/stream?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return tts.Audio{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return tts.Audio{}, errorsx.Wrap(
			resilience.FromHTTPStatus(s.ID(), resp.StatusCode, string(raw)),
			errorsx.ReasonTTSSynthesize)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	s.logger.Debug("synthesis_done",
		"latency_ms", time.Since(start).Milliseconds(),
		"bytes", len(data))

	encoding := "mulaw"
	rate := 8000
	if !strings.Contains(s.cfg.OutputFormat, "ulaw") {
		encoding = "linear16"
		rate = 16000
	}
	return tts.Audio{
		Data:       data,
		Encoding:   encoding,
		SampleRate: rate,
		ProviderID: s.ID(),
	}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
