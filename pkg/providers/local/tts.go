// Package local is the always-available synthesizer of last resort. It
// plays a pre-rendered prompt from disk when one is configured, otherwise a
// short run of mu-law silence, so a turn never ends with dead air plus an
// error.
package local

import (
	"context"
	"log/slog"
	"os"

	"github.com/calluna-ai/calluna/pkg/adapters/tts"
	"github.com/calluna-ai/calluna/pkg/audio"
	"github.com/calluna-ai/calluna/pkg/logging"
)

type Config struct {
	// PromptPath points at a raw 8kHz mu-law file played for every request,
	// e.g. a pre-rendered "sorry, please hold" prompt. Optional.
	PromptPath string
	// SilenceMS pads the response when no prompt file is configured.
	SilenceMS int
}

type Synthesizer struct {
	cfg    Config
	prompt []byte
	logger *slog.Logger
}

func NewSynthesizer(cfg Config) *Synthesizer {
	if cfg.SilenceMS <= 0 {
		cfg.SilenceMS = 400
	}
	s := &Synthesizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "local_tts"),
	}
	if cfg.PromptPath != "" {
		data, err := os.ReadFile(cfg.PromptPath)
		if err != nil {
			s.logger.Warn("prompt_load_failed", "path", cfg.PromptPath, "error", err)
		} else {
			s.prompt = data
		}
	}
	return s
}

func (s *Synthesizer) ID() string { return "local" }

func (s *Synthesizer) Synthesize(_ context.Context, text, _ string) (tts.Audio, error) {
	data := s.prompt
	if len(data) == 0 {
		// 8kHz mu-law, one byte per sample.
		data = make([]byte, s.cfg.SilenceMS*8)
		for i := range data {
			data[i] = audio.MuLawSilence
		}
	}
	s.logger.Info("local_fallback_played", "chars", len(text), "bytes", len(data))
	return tts.Audio{
		Data:       data,
		Encoding:   "mulaw",
		SampleRate: 8000,
		ProviderID: s.ID(),
	}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
