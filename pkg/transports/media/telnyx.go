package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// TelnyxProtocol speaks the Telnyx Media Streaming envelope. The shapes
// mirror Twilio's closely; the differences are the start body field names
// and the clear event name.
type TelnyxProtocol struct{}

func NewTelnyxProtocol() *TelnyxProtocol { return &TelnyxProtocol{} }

func (p *TelnyxProtocol) Vendor() string { return "telnyx" }

func (p *TelnyxProtocol) Format() Format {
	return Format{Encoding: "mulaw", SampleRate: 8000, ChunkBytes: 800}
}

type telnyxStart struct {
	CallControlID string `json:"call_control_id"`
	From          string `json:"from"`
}

type telnyxEnvelope struct {
	Event    string       `json:"event"`
	StreamID string       `json:"stream_id,omitempty"`
	Start    *telnyxStart `json:"start,omitempty"`
	Media    *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
	Stop *struct {
		Reason string `json:"reason"`
	} `json:"stop,omitempty"`
}

func (p *TelnyxProtocol) Decode(msg []byte) (Event, error) {
	var env telnyxEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Event{}, fmt.Errorf("telnyx envelope: %w", err)
	}
	switch env.Event {
	case "start":
		if env.Start == nil {
			return Event{}, fmt.Errorf("telnyx start without body")
		}
		return Event{Kind: EventStart, Start: StartInfo{
			CallSID:  env.Start.CallControlID,
			StreamID: env.StreamID,
			From:     env.Start.From,
		}}, nil
	case "media":
		if env.Media == nil {
			return Event{}, fmt.Errorf("telnyx media without body")
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("telnyx media payload: %w", err)
		}
		return Event{Kind: EventMedia, Payload: payload}, nil
	case "dtmf":
		if env.DTMF == nil {
			return Event{}, fmt.Errorf("telnyx dtmf without body")
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

func (p *TelnyxProtocol) EncodeMedia(streamID string, chunk []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "media",
		"stream_id": streamID,
		"media": map[string]any{
			"payload": base64.StdEncoding.EncodeToString(chunk),
		},
	})
}

func (p *TelnyxProtocol) EncodeClear(streamID string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "clear",
		"stream_id": streamID,
	})
}

func (p *TelnyxProtocol) EncodeMark(streamID, name string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "mark",
		"stream_id": streamID,
		"mark":      map[string]any{"name": name},
	})
}

var _ Protocol = (*TelnyxProtocol)(nil)
