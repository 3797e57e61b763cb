package calluna

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/calluna-ai/calluna/pkg/sessionstore"
	"github.com/calluna-ai/calluna/pkg/transports/media"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Server        media.Config        `mapstructure:"server"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Dispatch      DispatchConfig      `mapstructure:"dispatch"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Segmenter     SegmenterConfig     `mapstructure:"segmenter"`
	Transfer      TransferConfig      `mapstructure:"transfer"`
	Store         StoreConfig         `mapstructure:"store"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

// ObservabilityConfig enables optional per-call artifacts; empty dir means
// no files are written.
type ObservabilityConfig struct {
	ArtifactsDir string `mapstructure:"artifacts_dir"`
	// RetentionDays bounds how long per-call timelines are kept; 0 keeps
	// them forever.
	RetentionDays int `mapstructure:"retention_days"`
}

// VendorConfig names one provider plus its free-form settings block.
// Settings keys are provider-specific and decoded with configutil.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type TransportConfig struct {
	Vendor   string         `mapstructure:"vendor"`
	Settings map[string]any `mapstructure:"settings"`
}

// ProvidersConfig lists providers in failover order; the first entry is the
// primary for its capability.
type ProvidersConfig struct {
	STT         []VendorConfig `mapstructure:"stt"`
	LLM         []VendorConfig `mapstructure:"llm"`
	TTS         []VendorConfig `mapstructure:"tts"`
	TTSFallback *VendorConfig  `mapstructure:"tts_fallback"`
}

type DispatchConfig struct {
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

type AgentConfig struct {
	SystemPrompt     string   `mapstructure:"system_prompt"`
	Greeting         string   `mapstructure:"greeting"`
	VoiceID          string   `mapstructure:"voice_id"`
	ExitWords        []string `mapstructure:"exit_words"`
	ClosingUtterance string   `mapstructure:"closing_utterance"`
	ApologyUtterance string   `mapstructure:"apology_utterance"`
	MaxTurnHistory   int      `mapstructure:"max_turn_history"`
	TurnTimeoutMS    int      `mapstructure:"turn_timeout_ms"`
	SessionTTLMS     int      `mapstructure:"session_ttl_ms"`
}

type SegmenterConfig struct {
	Encoding            string  `mapstructure:"encoding"`
	EnergyThreshold     float64 `mapstructure:"energy_threshold"`
	SilenceDurationMS   int     `mapstructure:"silence_duration_ms"`
	MinSpeechDurationMS int     `mapstructure:"min_speech_duration_ms"`
	MaxDurationMS       int     `mapstructure:"max_duration_ms"`
}

type TransferConfig struct {
	Enabled              bool     `mapstructure:"enabled"`
	Target               string   `mapstructure:"target"`
	DialURL              string   `mapstructure:"dial_url"`
	RequestPhrases       []string `mapstructure:"request_phrases"`
	SensitiveKeywords    []string `mapstructure:"sensitive_keywords"`
	UnknownPhrases       []string `mapstructure:"unknown_phrases"`
	FrustrationKeywords  []string `mapstructure:"frustration_keywords"`
	ConfidenceThreshold  float64  `mapstructure:"confidence_threshold"`
	MaxUnknownResponses  int      `mapstructure:"max_unknown_responses"`
	SummaryTurns         int      `mapstructure:"summary_turns"`
	PreTransferUtterance string   `mapstructure:"pre_transfer_utterance"`
}

type StoreConfig struct {
	Backend         string                   `mapstructure:"backend"`
	Redis           sessionstore.RedisConfig `mapstructure:"redis"`
	RetryIntervalMS int                      `mapstructure:"retry_interval_ms"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("dispatch.breaker_threshold", 3)
	v.SetDefault("dispatch.breaker_cooldown_ms", 30000)
	v.SetDefault("agent.turn_timeout_ms", 30000)
	v.SetDefault("agent.session_ttl_ms", 3600000)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.retry_interval_ms", 10000)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Transport.Vendor)) {
	case "twilio", "telnyx", "plivo", "mock":
	case "":
		return fmt.Errorf("transport.vendor is required")
	default:
		return fmt.Errorf("unknown transport vendor: %s", c.Transport.Vendor)
	}
	if len(c.Providers.STT) == 0 {
		return fmt.Errorf("providers.stt requires at least one entry")
	}
	if len(c.Providers.LLM) == 0 {
		return fmt.Errorf("providers.llm requires at least one entry")
	}
	if len(c.Providers.TTS) == 0 {
		return fmt.Errorf("providers.tts requires at least one entry")
	}
	if c.Transfer.Enabled && strings.TrimSpace(c.Transfer.Target) == "" {
		return fmt.Errorf("transfer.target is required when transfer is enabled")
	}
	if strings.ToLower(c.Store.Backend) == "redis" && strings.TrimSpace(c.Store.Redis.Addr) == "" {
		return fmt.Errorf("store.redis.addr is required for the redis backend")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
	cfg.Providers.STT = expandVendorList(cfg.Providers.STT)
	cfg.Providers.LLM = expandVendorList(cfg.Providers.LLM)
	cfg.Providers.TTS = expandVendorList(cfg.Providers.TTS)
	if cfg.Providers.TTSFallback != nil {
		cfg.Providers.TTSFallback.Settings = expandSettings(cfg.Providers.TTSFallback.Settings)
	}
}

func expandVendorList(list []VendorConfig) []VendorConfig {
	for i := range list {
		list[i].Settings = expandSettings(list[i].Settings)
	}
	return list
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
