// Package openai implements the chat-completions contract. The BaseURL is
// overridable, which also covers OpenAI-compatible vendors such as Groq.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/calluna-ai/calluna/pkg/llm"
	"github.com/calluna-ai/calluna/pkg/resilience"
)

type Generator struct {
	id      string
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewGenerator(apiKey, model string) *Generator {
	return &Generator{
		id:      "openai",
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// NewCompatible targets an OpenAI-compatible endpoint under a distinct
// provider id, e.g. Groq's chat completions.
func NewCompatible(id, apiKey, model, baseURL string) *Generator {
	g := NewGenerator(apiKey, model)
	g.id = id
	g.BaseURL = baseURL
	return g
}

func (g *Generator) ID() string { return g.id }

func (g *Generator) Generate(ctx context.Context, messages []llm.Message) (llm.Reply, error) {
	body, err := g.buildRequest(messages, false)
	if err != nil {
		return llm.Reply{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", body)
	if err != nil {
		return llm.Reply{}, err
	}
	g.applyHeaders(req)
	resp, err := g.client().Do(req)
	if err != nil {
		return llm.Reply{}, err
	}
	defer resp.Body.Close()
	if err := g.checkStatus(resp); err != nil {
		return llm.Reply{}, err
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return llm.Reply{}, err
	}
	return g.parseReply(payload)
}

func (g *Generator) Stream(ctx context.Context, messages []llm.Message) (<-chan string, error) {
	body, err := g.buildRequest(messages, true)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	g.applyHeaders(req)
	resp, err := g.client().Do(req)
	if err != nil {
		return nil, err
	}
	if err := g.checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	out := make(chan string, 128)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk map[string]any
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			choices, _ := chunk["choices"].([]any)
			if len(choices) == 0 {
				continue
			}
			first, _ := choices[0].(map[string]any)
			delta, _ := first["delta"].(map[string]any)
			if text, _ := delta["content"].(string); text != "" {
				select {
				case <-ctx.Done():
					return
				case out <- text:
				}
			}
		}
	}()
	return out, nil
}

func (g *Generator) parseReply(payload map[string]any) (llm.Reply, error) {
	choices, _ := payload["choices"].([]any)
	if len(choices) == 0 {
		return llm.Reply{}, errors.New("no choices")
	}
	first, _ := choices[0].(map[string]any)
	msg, _ := first["message"].(map[string]any)
	content, _ := msg["content"].(string)
	reply := llm.Reply{Text: content, ProviderID: g.id}
	if reason, _ := first["finish_reason"].(string); reason != "" {
		reply.FinishReason = reason
	}
	return reply, nil
}

func (g *Generator) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return resilience.FromHTTPStatus(g.id, resp.StatusCode, string(body))
}

func (g *Generator) buildRequest(messages []llm.Message, stream bool) (*bytes.Buffer, error) {
	msgs := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
	}
	req := map[string]any{
		"model":    g.Model,
		"stream":   stream,
		"messages": msgs,
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (g *Generator) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
}

func (g *Generator) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}

var _ llm.Generator = (*Generator)(nil)
