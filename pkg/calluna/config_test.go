package calluna

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
transport:
  vendor: twilio
  settings:
    auth_token: tok
providers:
  stt:
    - provider: deepgram
      settings:
        api_key: dg-key
  llm:
    - provider: openai
      settings:
        api_key: oa-key
  tts:
    - provider: deepgram
      settings:
        api_key: dg-key
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "development" {
		t.Fatalf("expected development default, got %q", cfg.Environment)
	}
	if cfg.Dispatch.BreakerThreshold != 3 {
		t.Fatalf("expected breaker threshold default 3, got %d", cfg.Dispatch.BreakerThreshold)
	}
	if cfg.Agent.TurnTimeoutMS != 30000 {
		t.Fatalf("expected turn timeout default, got %d", cfg.Agent.TurnTimeoutMS)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected memory store default, got %q", cfg.Store.Backend)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("expected redact_pii default true")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DG_KEY", "secret-value")
	body := minimalConfig + `
agent:
  greeting: "Hello from ${TEST_DG_KEY}"
`
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Greeting != "Hello from secret-value" {
		t.Fatalf("env not expanded in struct field: %q", cfg.Agent.Greeting)
	}
}

func TestLoadConfigExpandsEnvInSettings(t *testing.T) {
	t.Setenv("TEST_API_KEY", "from-env")
	body := `
transport:
  vendor: telnyx
providers:
  stt:
    - provider: deepgram
      settings:
        api_key: ${TEST_API_KEY}
  llm:
    - provider: openai
      settings:
        api_key: x
  tts:
    - provider: deepgram
      settings:
        api_key: x
`
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Providers.STT[0].Settings["api_key"]; got != "from-env" {
		t.Fatalf("env not expanded in settings: %v", got)
	}
}

func TestValidateRejectsMissingPieces(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing transport", `
providers:
  stt: [{provider: mock}]
  llm: [{provider: mock}]
  tts: [{provider: mock}]
`},
		{"unknown vendor", `
transport:
  vendor: skype
providers:
  stt: [{provider: mock}]
  llm: [{provider: mock}]
  tts: [{provider: mock}]
`},
		{"no stt providers", `
transport:
  vendor: twilio
providers:
  llm: [{provider: mock}]
  tts: [{provider: mock}]
`},
		{"transfer without target", `
transport:
  vendor: twilio
providers:
  stt: [{provider: mock}]
  llm: [{provider: mock}]
  tts: [{provider: mock}]
transfer:
  enabled: true
`},
		{"redis without addr", `
transport:
  vendor: twilio
providers:
  stt: [{provider: mock}]
  llm: [{provider: mock}]
  tts: [{provider: mock}]
store:
  backend: redis
`},
	}
	for _, tc := range cases {
		if _, err := LoadConfig(writeConfig(t, tc.body)); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
