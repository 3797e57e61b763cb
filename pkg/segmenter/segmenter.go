// Package segmenter turns a raw telephony frame stream into discrete
// utterances using frame-local RMS energy classification.
package segmenter

import (
	"time"

	"github.com/calluna-ai/calluna/pkg/audio"
	"github.com/calluna-ai/calluna/pkg/frames"
)

// State is the voice-activity state of the segmenter.
type State int

const (
	StateSilence State = iota
	StateSpeech
	StateTrailingSilence
)

func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeech:
		return "speech"
	case StateTrailingSilence:
		return "trailing_silence"
	}
	return "unknown"
}

// Utterance is one contiguous speech run, closed by trailing silence or by
// the hard duration cutoff. Audio holds the source-encoded payload bytes in
// arrival order. Immutable after emission.
type Utterance struct {
	Audio       []byte
	StreamID    string
	StartedAt   time.Time
	EndedAt     time.Time
	DurationMS  int
	ForceClosed bool
}

// Config tunes the voice-activity detector. Zero values take defaults.
type Config struct {
	// Encoding of inbound frame payloads: "mulaw" or "linear16".
	Encoding string
	// EnergyThreshold is the RMS level, in raw PCM16 sample units, above
	// which a frame counts as speech.
	EnergyThreshold float64
	// SilenceDurationMS is the trailing silence required to close an
	// utterance.
	SilenceDurationMS int
	// MinSpeechDurationMS discards shorter speech runs as noise bursts.
	MinSpeechDurationMS int
	// MaxDurationMS force-closes an utterance that never goes silent.
	MaxDurationMS int
	// FrameDurationMS is used when a frame's sample rate is unknown.
	FrameDurationMS int
}

func (c *Config) applyDefaults() {
	if c.Encoding == "" {
		c.Encoding = "mulaw"
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 300
	}
	if c.SilenceDurationMS <= 0 {
		c.SilenceDurationMS = 800
	}
	if c.MinSpeechDurationMS <= 0 {
		c.MinSpeechDurationMS = 200
	}
	if c.MaxDurationMS <= 0 {
		c.MaxDurationMS = 15000
	}
	if c.FrameDurationMS <= 0 {
		c.FrameDurationMS = 20
	}
}

// Segmenter is not safe for concurrent use; each call session owns one.
type Segmenter struct {
	cfg   Config
	state State

	buf       []byte
	streamID  string
	startedAt time.Time
	speechMS  int
	silenceMS int
	totalMS   int
}

func New(cfg Config) *Segmenter {
	cfg.applyDefaults()
	return &Segmenter{cfg: cfg}
}

func (s *Segmenter) State() State { return s.state }

// Feed consumes one inbound frame and returns a completed utterance when a
// speech run closes, or nil otherwise. The frame payload is copied; the
// caller keeps ownership of the frame.
func (s *Segmenter) Feed(frame frames.AudioFrame) *Utterance {
	payload := frame.RawPayload()
	if len(payload) == 0 {
		return nil
	}
	ms := s.frameMS(frame)
	speech := s.isSpeech(payload)

	switch s.state {
	case StateSilence:
		if !speech {
			return nil
		}
		s.state = StateSpeech
		s.streamID = frame.StreamID()
		s.startedAt = time.Now()
		s.buf = append(s.buf[:0], payload...)
		s.speechMS = ms
		s.silenceMS = 0
		s.totalMS = ms
		return s.maybeForceClose()

	case StateSpeech:
		s.buf = append(s.buf, payload...)
		s.totalMS += ms
		if speech {
			s.speechMS += ms
			return s.maybeForceClose()
		}
		s.state = StateTrailingSilence
		s.silenceMS = ms
		return s.maybeClose()

	case StateTrailingSilence:
		s.buf = append(s.buf, payload...)
		s.totalMS += ms
		if speech {
			s.state = StateSpeech
			s.speechMS += ms
			s.silenceMS = 0
			return s.maybeForceClose()
		}
		s.silenceMS += ms
		return s.maybeClose()
	}
	return nil
}

// Flush closes any in-progress speech run at end of input. Calling it again
// on an empty buffer returns nil.
func (s *Segmenter) Flush() *Utterance {
	if s.state == StateSilence || len(s.buf) == 0 {
		s.reset()
		return nil
	}
	if s.speechMS < s.cfg.MinSpeechDurationMS {
		s.reset()
		return nil
	}
	return s.emit(false)
}

func (s *Segmenter) maybeClose() *Utterance {
	if s.silenceMS < s.cfg.SilenceDurationMS {
		return nil
	}
	if s.speechMS < s.cfg.MinSpeechDurationMS {
		s.reset()
		return nil
	}
	return s.emit(false)
}

// maybeForceClose emits once the run hits the hard cutoff. A force-closed
// utterance is emitted even when shorter than the minimum speech duration:
// the caller was cut off mid-sentence and losing the audio would drop their
// words entirely.
func (s *Segmenter) maybeForceClose() *Utterance {
	if s.totalMS < s.cfg.MaxDurationMS {
		return nil
	}
	return s.emit(true)
}

func (s *Segmenter) emit(forced bool) *Utterance {
	utt := &Utterance{
		Audio:       append([]byte(nil), s.buf...),
		StreamID:    s.streamID,
		StartedAt:   s.startedAt,
		EndedAt:     s.startedAt.Add(time.Duration(s.totalMS-s.silenceMS) * time.Millisecond),
		DurationMS:  s.totalMS - s.silenceMS,
		ForceClosed: forced,
	}
	s.reset()
	return utt
}

func (s *Segmenter) reset() {
	s.state = StateSilence
	s.buf = s.buf[:0]
	s.streamID = ""
	s.speechMS = 0
	s.silenceMS = 0
	s.totalMS = 0
}

func (s *Segmenter) isSpeech(payload []byte) bool {
	var pcm []byte
	if s.cfg.Encoding == "linear16" {
		pcm = payload
	} else {
		pcm = audio.DecodeMuLaw(payload)
	}
	return audio.RMS(pcm) >= s.cfg.EnergyThreshold
}

func (s *Segmenter) frameMS(frame frames.AudioFrame) int {
	rate := frame.Rate()
	if rate <= 0 {
		return s.cfg.FrameDurationMS
	}
	samples := len(frame.RawPayload())
	if s.cfg.Encoding == "linear16" {
		samples /= 2
	}
	ms := samples * 1000 / rate
	if ms <= 0 {
		return s.cfg.FrameDurationMS
	}
	return ms
}
