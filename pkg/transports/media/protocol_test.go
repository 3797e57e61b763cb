package media

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func TestTwilioDecodeStart(t *testing.T) {
	p := NewTwilioProtocol("")
	msg := []byte(`{"event":"start","start":{"callSid":"CA1","streamSid":"MZ1","from":"+15550100"}}`)
	evt, err := p.Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if evt.Kind != EventStart || evt.Start.CallSID != "CA1" || evt.Start.StreamID != "MZ1" || evt.Start.From != "+15550100" {
		t.Fatalf("event: %+v", evt)
	}
}

func TestTwilioDecodeMedia(t *testing.T) {
	p := NewTwilioProtocol("")
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x00, 0x80})
	msg := []byte(`{"event":"media","media":{"payload":"` + payload + `"}}`)
	evt, err := p.Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if evt.Kind != EventMedia || !bytes.Equal(evt.Payload, []byte{0xFF, 0x00, 0x80}) {
		t.Fatalf("event: %+v", evt)
	}
}

func TestTwilioDecodeMalformed(t *testing.T) {
	p := NewTwilioProtocol("")
	if _, err := p.Decode([]byte(`{not json`)); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
	if _, err := p.Decode([]byte(`{"event":"media"}`)); err == nil {
		t.Fatalf("expected error for media without body")
	}
	if _, err := p.Decode([]byte(`{"event":"media","media":{"payload":"!!not-base64!!"}}`)); err == nil {
		t.Fatalf("expected error for bad base64")
	}
}

func TestTwilioDecodeUnknownEventIgnored(t *testing.T) {
	p := NewTwilioProtocol("")
	evt, err := p.Decode([]byte(`{"event":"connected"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if evt.Kind != EventIgnored {
		t.Fatalf("kind = %v", evt.Kind)
	}
}

func TestTwilioEncodeClear(t *testing.T) {
	p := NewTwilioProtocol("")
	msg, err := p.EncodeClear("MZ1")
	if err != nil {
		t.Fatalf("EncodeClear: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env["event"] != "clear" || env["streamSid"] != "MZ1" {
		t.Fatalf("envelope: %v", env)
	}
}

func TestTwilioEncodeMediaRoundTrip(t *testing.T) {
	p := NewTwilioProtocol("")
	chunk := []byte{1, 2, 3, 4}
	msg, err := p.EncodeMedia("MZ1", chunk)
	if err != nil {
		t.Fatalf("EncodeMedia: %v", err)
	}
	evt, err := p.Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if evt.Kind != EventMedia || !bytes.Equal(evt.Payload, chunk) {
		t.Fatalf("event: %+v", evt)
	}
}

func TestTelnyxDecodeStartAndStop(t *testing.T) {
	p := NewTelnyxProtocol()
	evt, err := p.Decode([]byte(`{"event":"start","stream_id":"S1","start":{"call_control_id":"cc1","from":"+15550100"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if evt.Kind != EventStart || evt.Start.StreamID != "S1" || evt.Start.CallSID != "cc1" {
		t.Fatalf("event: %+v", evt)
	}
	evt, err = p.Decode([]byte(`{"event":"stop","stop":{"reason":"hangup"}}`))
	if err != nil || evt.Kind != EventStop || evt.Reason != "hangup" {
		t.Fatalf("stop event: %+v err=%v", evt, err)
	}
}

func TestPlivoEncodePlayAudio(t *testing.T) {
	p := NewPlivoProtocol()
	msg, err := p.EncodeMedia("S1", []byte{0xFF})
	if err != nil {
		t.Fatalf("EncodeMedia: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env["event"] != "playAudio" {
		t.Fatalf("event = %v", env["event"])
	}
	media := env["media"].(map[string]any)
	if media["contentType"] != "audio/x-mulaw" {
		t.Fatalf("contentType = %v", media["contentType"])
	}
}

func TestPlivoEncodeClearAudio(t *testing.T) {
	p := NewPlivoProtocol()
	msg, err := p.EncodeClear("S1")
	if err != nil {
		t.Fatalf("EncodeClear: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env["event"] != "clearAudio" || env["streamId"] != "S1" {
		t.Fatalf("envelope: %v", env)
	}
}

func TestNormalizeCallEndReason(t *testing.T) {
	cases := map[string]string{
		"completed":        "completed",
		"HANGUP":           "completed",
		"busy":             "busy",
		"no-answer":        "no_answer",
		"transport_closed": "failed",
		"ringing":          "",
		"something-else":   "unknown",
	}
	for in, want := range cases {
		if got := normalizeCallEndReason(in); got != want {
			t.Fatalf("normalizeCallEndReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnqueueShedsWhenBufferFull(t *testing.T) {
	sess := &session{stream: "MZ1", sendCh: make(chan []byte, 1)}
	if err := sess.enqueue([]byte("first")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.enqueue([]byte("second")) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("enqueue on full buffer: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on a full buffer")
	}

	if got := <-sess.sendCh; !bytes.Equal(got, []byte("first")) {
		t.Fatalf("queued message = %q, want %q", got, "first")
	}
	select {
	case extra := <-sess.sendCh:
		t.Fatalf("unexpected queued message %q", extra)
	default:
	}
}
