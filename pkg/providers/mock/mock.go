// Package mock holds scriptable in-memory providers for tests and for
// running the engine without live vendor credentials.
package mock

import (
	"context"
	"sync"

	"github.com/calluna-ai/calluna/pkg/adapters/stt"
	"github.com/calluna-ai/calluna/pkg/adapters/tts"
	"github.com/calluna-ai/calluna/pkg/llm"
)

// Transcriber returns scripted transcripts in order, then repeats the last
// one. Err, when set, fails every call.
type Transcriber struct {
	Name        string
	Transcripts []string
	Confidence  float64
	Err         error

	mu        sync.Mutex
	calls     int
	lastAudio []byte
}

func NewTranscriber(transcripts ...string) *Transcriber {
	if len(transcripts) == 0 {
		transcripts = []string{"mock transcript"}
	}
	return &Transcriber{Name: "mock_stt", Transcripts: transcripts, Confidence: 1.0}
}

func (t *Transcriber) ID() string { return t.Name }

func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// LastAudio returns the payload of the most recent Transcribe call.
func (t *Transcriber) LastAudio() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAudio
}

func (t *Transcriber) Transcribe(_ context.Context, audio []byte, _ string) (stt.Transcript, error) {
	t.mu.Lock()
	i := t.calls
	t.calls++
	t.lastAudio = audio
	t.mu.Unlock()
	if t.Err != nil {
		return stt.Transcript{}, t.Err
	}
	if i >= len(t.Transcripts) {
		i = len(t.Transcripts) - 1
	}
	return stt.Transcript{
		Text:       t.Transcripts[i],
		Confidence: t.Confidence,
		ProviderID: t.Name,
	}, nil
}

// Generator returns scripted replies in order, then repeats the last one.
type Generator struct {
	Name    string
	Replies []string
	Err     error

	mu    sync.Mutex
	calls int
}

func NewGenerator(replies ...string) *Generator {
	if len(replies) == 0 {
		replies = []string{"mock reply"}
	}
	return &Generator{Name: "mock_llm", Replies: replies}
}

func (g *Generator) ID() string { return g.Name }

func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *Generator) next() (string, error) {
	g.mu.Lock()
	i := g.calls
	g.calls++
	g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	if i >= len(g.Replies) {
		i = len(g.Replies) - 1
	}
	return g.Replies[i], nil
}

func (g *Generator) Generate(_ context.Context, _ []llm.Message) (llm.Reply, error) {
	text, err := g.next()
	if err != nil {
		return llm.Reply{}, err
	}
	return llm.Reply{Text: text, FinishReason: "stop", ProviderID: g.Name}, nil
}

func (g *Generator) Stream(ctx context.Context, messages []llm.Message) (<-chan string, error) {
	text, err := g.next()
	if err != nil {
		return nil, err
	}
	out := make(chan string, 1)
	out <- text
	close(out)
	return out, nil
}

// Synthesizer returns a fixed payload for every request.
type Synthesizer struct {
	Name string
	Data []byte
	Err  error

	mu    sync.Mutex
	calls int
	texts []string
}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{Name: "mock_tts", Data: []byte{0xFF, 0xFF, 0xFF, 0xFF}}
}

func (s *Synthesizer) ID() string { return s.Name }

func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Texts returns every text passed to Synthesize, in order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *Synthesizer) Synthesize(_ context.Context, text, _ string) (tts.Audio, error) {
	s.mu.Lock()
	s.calls++
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.Err != nil {
		return tts.Audio{}, s.Err
	}
	return tts.Audio{Data: s.Data, Encoding: "mulaw", SampleRate: 8000, ProviderID: s.Name}, nil
}

var (
	_ stt.Transcriber = (*Transcriber)(nil)
	_ llm.Generator   = (*Generator)(nil)
	_ tts.Synthesizer = (*Synthesizer)(nil)
)
