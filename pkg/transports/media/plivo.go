package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// PlivoProtocol speaks the Plivo AudioStream envelope. Outbound playback is
// a "playAudio" event and the barge-in primitive is "clearAudio"; mark
// checkpoints are via "checkpoint" events.
type PlivoProtocol struct{}

func NewPlivoProtocol() *PlivoProtocol { return &PlivoProtocol{} }

func (p *PlivoProtocol) Vendor() string { return "plivo" }

func (p *PlivoProtocol) Format() Format {
	return Format{Encoding: "mulaw", SampleRate: 8000, ChunkBytes: 640}
}

type plivoStart struct {
	CallID   string `json:"callId"`
	StreamID string `json:"streamId"`
	From     string `json:"from"`
}

type plivoEnvelope struct {
	Event string      `json:"event"`
	Start *plivoStart `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
	Stop *struct {
		Reason string `json:"reason"`
	} `json:"stop,omitempty"`
}

func (p *PlivoProtocol) Decode(msg []byte) (Event, error) {
	var env plivoEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Event{}, fmt.Errorf("plivo envelope: %w", err)
	}
	switch env.Event {
	case "start":
		if env.Start == nil {
			return Event{}, fmt.Errorf("plivo start without body")
		}
		return Event{Kind: EventStart, Start: StartInfo{
			CallSID:  env.Start.CallID,
			StreamID: env.Start.StreamID,
			From:     env.Start.From,
		}}, nil
	case "media":
		if env.Media == nil {
			return Event{}, fmt.Errorf("plivo media without body")
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("plivo media payload: %w", err)
		}
		return Event{Kind: EventMedia, Payload: payload}, nil
	case "dtmf":
		if env.DTMF == nil {
			return Event{}, fmt.Errorf("plivo dtmf without body")
		}
		return Event{Kind: EventDTMF, Digit: env.DTMF.Digit}, nil
	case "stop":
		reason := ""
		if env.Stop != nil {
			reason = env.Stop.Reason
		}
		return Event{Kind: EventStop, Reason: reason}, nil
	}
	return Event{Kind: EventIgnored}, nil
}

func (p *PlivoProtocol) EncodeMedia(streamID string, chunk []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":    "playAudio",
		"streamId": streamID,
		"media": map[string]any{
			"contentType": "audio/x-mulaw",
			"sampleRate":  8000,
			"payload":     base64.StdEncoding.EncodeToString(chunk),
		},
	})
}

func (p *PlivoProtocol) EncodeClear(streamID string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":    "clearAudio",
		"streamId": streamID,
	})
}

func (p *PlivoProtocol) EncodeMark(streamID, name string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":    "checkpoint",
		"streamId": streamID,
		"name":     name,
	})
}

var _ Protocol = (*PlivoProtocol)(nil)
