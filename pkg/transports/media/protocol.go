// Package media runs the duplex telephony streaming server. One Server
// handles any vendor whose framing is expressed as a Protocol: the server
// owns the WebSocket lifecycle and session registry, the Protocol owns the
// vendor's JSON envelope shapes.
package media

import "net/http"

// EventKind discriminates decoded inbound envelopes.
type EventKind string

const (
	EventStart   EventKind = "start"
	EventMedia   EventKind = "media"
	EventDTMF    EventKind = "dtmf"
	EventStop    EventKind = "stop"
	EventMark    EventKind = "mark"
	EventIgnored EventKind = "ignored"
)

// StartInfo carries call identity from a vendor's start envelope.
type StartInfo struct {
	CallSID  string
	StreamID string
	From     string
}

// Event is one decoded inbound envelope. Payload is the raw audio bytes for
// EventMedia, already base64-decoded.
type Event struct {
	Kind    EventKind
	Start   StartInfo
	Payload []byte
	Digit   string
	Reason  string
	Mark    string
}

// Format describes the vendor's wire audio.
type Format struct {
	Encoding   string
	SampleRate int
	// ChunkBytes is the outbound payload size the vendor expects per media
	// message.
	ChunkBytes int
}

// Protocol translates one vendor's streaming envelopes. Decode returns
// EventIgnored (not an error) for envelope kinds the pipeline has no use
// for; an error means the message was malformed and is dropped with a log.
type Protocol interface {
	Vendor() string
	Format() Format
	Decode(msg []byte) (Event, error)
	EncodeMedia(streamID string, chunk []byte) ([]byte, error)
	EncodeClear(streamID string) ([]byte, error)
	EncodeMark(streamID, name string) ([]byte, error)
}

// WebhookAnswerer is implemented by protocols whose vendor calls an HTTP
// webhook to learn where to open the media stream.
type WebhookAnswerer interface {
	AnswerWebhook(w http.ResponseWriter, r *http.Request, wsURL, greeting string)
}

// SignatureValidator is implemented by protocols that can authenticate
// vendor webhook requests.
type SignatureValidator interface {
	ValidateSignature(r *http.Request, body []byte, url string) bool
}
