package metrics

import "time"

// Event names emitted by the pipeline.
const (
	EventAudioIn       = "audio_in"
	EventAudioOut      = "audio_out"
	EventUtterance     = "utterance"
	EventSTTDone       = "stt_done"
	EventLLMFirstToken = "llm_first_token"
	EventLLMDone       = "llm_done"
	EventTTSFirstAudio = "tts_first_audio"
	EventTurnDone      = "turn_done"
	EventBargeIn       = "barge_in"
	EventTransfer      = "transfer"
	EventProviderFail  = "provider_failover"
	EventFrameDropped  = "frame_dropped"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
