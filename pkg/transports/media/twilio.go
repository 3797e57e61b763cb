package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
)

// TwilioProtocol speaks the Twilio Media Streams envelope: JSON with an
// "event" discriminator, mu-law 8000 payloads, and a "clear" event as the
// barge-in primitive.
type TwilioProtocol struct {
	AuthToken string
}

func NewTwilioProtocol(authToken string) *TwilioProtocol {
	return &TwilioProtocol{AuthToken: authToken}
}

func (p *TwilioProtocol) Vendor() string { return "twilio" }

func (p *TwilioProtocol) Format() Format {
	return Format{Encoding: "mulaw", SampleRate: 8000, ChunkBytes: 640}
}

type twilioStart struct {
	CallSID  string `json:"callSid"`
	StreamID string `json:"streamSid"`
	From     string `json:"from"`
}

type twilioMedia struct {
	Payload string `json:"payload"`
}

type twilioDTMF struct {
	Digit string `json:"digit"`
}

type twilioStop struct {
	Reason string `json:"reason"`
}

type twilioMark struct {
	Name string `json:"name"`
}

type twilioEnvelope struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *twilioStart `json:"start,omitempty"`
	Media     *twilioMedia `json:"media,omitempty"`
	DTMF      *twilioDTMF  `json:"dtmf,omitempty"`
	Stop      *twilioStop  `json:"stop,omitempty"`
	Mark      *twilioMark  `json:"mark,omitempty"`
}

func (p *TwilioProtocol) Decode(msg []byte) (Event, error) {
	var env twilioEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Event{}, fmt.Errorf("twilio envelope: %w", err)
	}
	switch env.Event {
	case "start":
		if env.Start == nil {
			return Event{}, fmt.Errorf("twilio start without body")
		}
		return Event{Kind: EventStart, Start: StartInfo{
			CallSID:  env.Start.CallSID,
			StreamID: env.Start.StreamID,
			From:     env.Start.From,
		}}, nil
	case "media":
		if env.Media == nil {
			return Event{}, fmt.Errorf("twilio media without body")
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("twilio media payload: %w", err)
		}
		return Event{Kind: EventMedia, Payload: payload}, nil
	case "dtmf":
		if env.DTMF == nil {
			return Event{}, fmt.Errorf("twilio dtmf without body")
		}
		return Event{Kind: EventDTMF, Digit: env.DTMF.Digit}, nil
	case "mark":
		if env.Mark == nil {
			return Event{Kind: EventIgnored}, nil
		}
		return Event{Kind: EventMark, Mark: env.Mark.Name}, nil
	case "stop":
		reason := ""
		if env.Stop != nil {
			reason = env.Stop.Reason
		}
		return Event{Kind: EventStop, Reason: reason}, nil
	}
	return Event{Kind: EventIgnored}, nil
}

func (p *TwilioProtocol) EncodeMedia(streamID string, chunk []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "media",
		"streamSid": streamID,
		"media": map[string]any{
			"payload": base64.StdEncoding.EncodeToString(chunk),
		},
	})
}

func (p *TwilioProtocol) EncodeClear(streamID string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "clear",
		"streamSid": streamID,
	})
}

func (p *TwilioProtocol) EncodeMark(streamID, name string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "mark",
		"streamSid": streamID,
		"mark":      map[string]any{"name": name},
	})
}

// AnswerWebhook returns TwiML that greets the caller and connects the
// bidirectional media stream.
func (p *TwilioProtocol) AnswerWebhook(w http.ResponseWriter, _ *http.Request, wsURL, greeting string) {
	greeting = strings.TrimSpace(greeting)
	var twiml string
	if greeting != "" {
		twiml = `<Response><Say>` + xmlEscape(greeting) + `</Say><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	} else {
		twiml = `<Response><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

func (p *TwilioProtocol) ValidateSignature(r *http.Request, body []byte, url string) bool {
	if p.AuthToken == "" {
		return true
	}
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	validator := twilioclient.NewRequestValidator(p.AuthToken)
	return validator.ValidateBody(url, body, signature)
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

var (
	_ Protocol           = (*TwilioProtocol)(nil)
	_ WebhookAnswerer    = (*TwilioProtocol)(nil)
	_ SignatureValidator = (*TwilioProtocol)(nil)
)
