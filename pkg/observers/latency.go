package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/calluna-ai/calluna/pkg/metrics"
)

// LatencyObserver tracks per-turn stage timings and logs a single latency
// line once the turn completes.
type LatencyObserver struct {
	mu     sync.Mutex
	turns  map[string]*turnTrace
	log    *slog.Logger
}

type turnTrace struct {
	utterance time.Time
	sttDone   time.Time
	llmFirst  time.Time
	llmDone   time.Time
	ttsFirst  time.Time
	traceID   string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		turns: make(map[string]*turnTrace),
		log:   log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ""
	if ev.Tags != nil {
		streamID = ev.Tags["stream_id"]
	}
	if streamID == "" {
		return
	}
	o.mu.Lock()
	t := o.turns[streamID]
	if t == nil {
		t = &turnTrace{}
		o.turns[streamID] = t
	}
	switch ev.Name {
	case metrics.EventUtterance:
		// A new utterance restarts the trace for this stream.
		*t = turnTrace{utterance: ev.Time}
		if ev.Tags != nil {
			t.traceID = ev.Tags["trace_id"]
		}
	case metrics.EventSTTDone:
		if t.sttDone.IsZero() {
			t.sttDone = ev.Time
		}
	case metrics.EventLLMFirstToken:
		if t.llmFirst.IsZero() {
			t.llmFirst = ev.Time
		}
	case metrics.EventLLMDone:
		t.llmDone = ev.Time
	case metrics.EventTTSFirstAudio:
		if t.ttsFirst.IsZero() {
			t.ttsFirst = ev.Time
		}
	case metrics.EventTurnDone, metrics.EventBargeIn:
		o.logTurnLocked(streamID, t, ev.Name == metrics.EventBargeIn)
		delete(o.turns, streamID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnLocked(streamID string, t *turnTrace, abandoned bool) {
	sttMS := durationMs(t.utterance, t.sttDone)
	llmMS := durationMs(t.sttDone, t.llmFirst)
	ttsMS := durationMs(t.llmFirst, t.ttsFirst)
	ttfb := durationMs(t.sttDone, t.ttsFirst)
	o.log.Info("turn_latency",
		"stream_id", streamID,
		"trace_id", t.traceID,
		"stt_ms", sttMS,
		"llm_first_token_ms", llmMS,
		"tts_first_audio_ms", ttsMS,
		"ttfb_ms", ttfb,
		"abandoned", abandoned,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
