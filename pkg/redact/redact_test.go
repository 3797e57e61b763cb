package redact

import (
	"strings"
	"testing"
)

func TestTextDisabledPassthrough(t *testing.T) {
	SetEnabled(false)
	in := "reach me at jan@example.com"
	if got := Text(in); got != in {
		t.Fatalf("expected passthrough when disabled, got %q", got)
	}
}

func TestTextRedactsEmailAndPhone(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	got := Text("email jan@example.com or call +62 811 2345 6789")
	if strings.Contains(got, "jan@example.com") {
		t.Fatalf("email not redacted: %q", got)
	}
	if !strings.Contains(got, "[REDACTED_EMAIL]") {
		t.Fatalf("expected redaction marker in %q", got)
	}
}
