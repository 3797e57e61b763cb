// Package groq implements batch transcription against Groq's hosted
// Whisper endpoint.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/calluna-ai/calluna/pkg/adapters/stt"
	"github.com/calluna-ai/calluna/pkg/errorsx"
	"github.com/calluna-ai/calluna/pkg/logging"
	"github.com/calluna-ai/calluna/pkg/resilience"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Transcriber struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewTranscriber(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3-turbo"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	return &Transcriber{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logging.NewComponentLogger(slog.Default(), "groq_stt"),
	}
}

func (t *Transcriber) ID() string { return "groq" }

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string) (stt.Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return stt.Transcript{}, err
	}
	if _, err := fw.Write(audio); err != nil {
		return stt.Transcript{}, err
	}
	if err := mw.WriteField("model", t.cfg.Model); err != nil {
		return stt.Transcript{}, err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return stt.Transcript{}, err
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return stt.Transcript{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return stt.Transcript{}, errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return stt.Transcript{}, errorsx.Wrap(
			resilience.FromHTTPStatus(t.ID(), resp.StatusCode, string(raw)),
			errorsx.ReasonSTTTranscribe)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return stt.Transcript{}, errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	t.logger.Debug("transcription_done",
		"latency_ms", latency,
		"chars", len(payload.Text))
	// Whisper does not report confidence.
	return stt.Transcript{
		Text:       payload.Text,
		Confidence: 1.0,
		ProviderID: t.ID(),
		LatencyMS:  latency,
	}, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
