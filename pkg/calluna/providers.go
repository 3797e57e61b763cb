package calluna

import (
	"fmt"
	"strings"

	"github.com/calluna-ai/calluna/pkg/adapters/stt"
	"github.com/calluna-ai/calluna/pkg/adapters/tts"
	"github.com/calluna-ai/calluna/pkg/configutil"
	"github.com/calluna-ai/calluna/pkg/llm"
	"github.com/calluna-ai/calluna/pkg/providers/deepgram"
	"github.com/calluna-ai/calluna/pkg/providers/elevenlabs"
	"github.com/calluna-ai/calluna/pkg/providers/groq"
	"github.com/calluna-ai/calluna/pkg/providers/local"
	"github.com/calluna-ai/calluna/pkg/providers/mock"
	"github.com/calluna-ai/calluna/pkg/providers/openai"
)

type TranscriberFactory func(settings map[string]any) (stt.Transcriber, error)
type GeneratorFactory func(settings map[string]any) (llm.Generator, error)
type SynthesizerFactory func(settings map[string]any) (tts.Synthesizer, error)

// ProviderRegistry maps provider names from config onto constructors.
// Register custom providers before building the engine.
type ProviderRegistry struct {
	stt map[string]TranscriberFactory
	llm map[string]GeneratorFactory
	tts map[string]SynthesizerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	r := &ProviderRegistry{
		stt: make(map[string]TranscriberFactory),
		llm: make(map[string]GeneratorFactory),
		tts: make(map[string]SynthesizerFactory),
	}
	r.registerDefaults()
	return r
}

func (r *ProviderRegistry) RegisterSTT(name string, f TranscriberFactory) {
	r.stt[normalizeName(name)] = f
}

func (r *ProviderRegistry) RegisterLLM(name string, f GeneratorFactory) {
	r.llm[normalizeName(name)] = f
}

func (r *ProviderRegistry) RegisterTTS(name string, f SynthesizerFactory) {
	r.tts[normalizeName(name)] = f
}

func (r *ProviderRegistry) BuildSTT(list []VendorConfig) ([]stt.Transcriber, error) {
	out := make([]stt.Transcriber, 0, len(list))
	for _, vc := range list {
		f := r.stt[normalizeName(vc.Provider)]
		if f == nil {
			return nil, fmt.Errorf("stt provider not registered: %s", vc.Provider)
		}
		t, err := f(vc.Settings)
		if err != nil {
			return nil, fmt.Errorf("stt provider %s: %w", vc.Provider, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *ProviderRegistry) BuildLLM(list []VendorConfig) ([]llm.Generator, error) {
	out := make([]llm.Generator, 0, len(list))
	for _, vc := range list {
		f := r.llm[normalizeName(vc.Provider)]
		if f == nil {
			return nil, fmt.Errorf("llm provider not registered: %s", vc.Provider)
		}
		g, err := f(vc.Settings)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", vc.Provider, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func (r *ProviderRegistry) BuildTTS(list []VendorConfig) ([]tts.Synthesizer, error) {
	out := make([]tts.Synthesizer, 0, len(list))
	for _, vc := range list {
		f := r.tts[normalizeName(vc.Provider)]
		if f == nil {
			return nil, fmt.Errorf("tts provider not registered: %s", vc.Provider)
		}
		s, err := f(vc.Settings)
		if err != nil {
			return nil, fmt.Errorf("tts provider %s: %w", vc.Provider, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *ProviderRegistry) BuildTTSFallback(vc *VendorConfig) (tts.Synthesizer, error) {
	if vc == nil {
		return local.NewSynthesizer(local.Config{}), nil
	}
	f := r.tts[normalizeName(vc.Provider)]
	if f == nil {
		return nil, fmt.Errorf("tts fallback provider not registered: %s", vc.Provider)
	}
	return f(vc.Settings)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *ProviderRegistry) registerDefaults() {
	r.RegisterSTT("deepgram", func(settings map[string]any) (stt.Transcriber, error) {
		var s struct {
			APIKey   string `mapstructure:"api_key"`
			Model    string `mapstructure:"model"`
			Language string `mapstructure:"language"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "api_key"); err != nil {
			return nil, err
		}
		return deepgram.NewTranscriber(deepgram.Config{
			APIKey:   s.APIKey,
			Model:    s.Model,
			Language: s.Language,
		}), nil
	})
	r.RegisterSTT("groq", func(settings map[string]any) (stt.Transcriber, error) {
		var s struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "api_key"); err != nil {
			return nil, err
		}
		return groq.NewTranscriber(groq.Config{
			APIKey:  s.APIKey,
			Model:   s.Model,
			BaseURL: s.BaseURL,
		}), nil
	})
	r.RegisterSTT("mock", func(settings map[string]any) (stt.Transcriber, error) {
		var s struct {
			Transcripts []string `mapstructure:"transcripts"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		return mock.NewTranscriber(s.Transcripts...), nil
	})

	r.RegisterLLM("openai", func(settings map[string]any) (llm.Generator, error) {
		var s struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "api_key"); err != nil {
			return nil, err
		}
		if s.BaseURL != "" {
			return openai.NewCompatible("openai", s.APIKey, s.Model, s.BaseURL), nil
		}
		return openai.NewGenerator(s.APIKey, s.Model), nil
	})
	r.RegisterLLM("groq", func(settings map[string]any) (llm.Generator, error) {
		var s struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "api_key"); err != nil {
			return nil, err
		}
		base := s.BaseURL
		if base == "" {
			base = "https://api.groq.com/openai/v1"
		}
		model := s.Model
		if model == "" {
			model = "llama-3.3-70b-versatile"
		}
		return openai.NewCompatible("groq", s.APIKey, model, base), nil
	})
	r.RegisterLLM("mock", func(settings map[string]any) (llm.Generator, error) {
		var s struct {
			Replies []string `mapstructure:"replies"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		return mock.NewGenerator(s.Replies...), nil
	})

	r.RegisterTTS("deepgram", func(settings map[string]any) (tts.Synthesizer, error) {
		var s struct {
			APIKey     string `mapstructure:"api_key"`
			Model      string `mapstructure:"model"`
			Encoding   string `mapstructure:"encoding"`
			SampleRate int    `mapstructure:"sample_rate"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "api_key"); err != nil {
			return nil, err
		}
		return deepgram.NewSynthesizer(deepgram.TTSConfig{
			APIKey:     s.APIKey,
			Model:      s.Model,
			Encoding:   s.Encoding,
			SampleRate: s.SampleRate,
		}), nil
	})
	r.RegisterTTS("elevenlabs", func(settings map[string]any) (tts.Synthesizer, error) {
		var s struct {
			APIKey       string `mapstructure:"api_key"`
			VoiceID      string `mapstructure:"voice_id"`
			ModelID      string `mapstructure:"model_id"`
			OutputFormat string `mapstructure:"output_format"`
			BaseURL      string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "api_key"); err != nil {
			return nil, err
		}
		return elevenlabs.NewSynthesizer(elevenlabs.Config{
			APIKey:       s.APIKey,
			VoiceID:      s.VoiceID,
			ModelID:      s.ModelID,
			OutputFormat: s.OutputFormat,
			BaseURL:      s.BaseURL,
		}), nil
	})
	r.RegisterTTS("local", func(settings map[string]any) (tts.Synthesizer, error) {
		var s struct {
			PromptPath string `mapstructure:"prompt_path"`
			SilenceMS  int    `mapstructure:"silence_ms"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		return local.NewSynthesizer(local.Config{
			PromptPath: s.PromptPath,
			SilenceMS:  s.SilenceMS,
		}), nil
	})
	r.RegisterTTS("mock", func(settings map[string]any) (tts.Synthesizer, error) {
		return mock.NewSynthesizer(), nil
	})
}
