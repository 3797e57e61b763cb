package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonTTSSynthesize)
	if Reason(err) != ReasonTTSSynthesize {
		t.Fatalf("expected reason %s, got %s", ReasonTTSSynthesize, Reason(err))
	}
	if !HasReason(err, ReasonTTSSynthesize) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTTranscribe)
	second := Wrap(first, ReasonLLMGenerate)
	if Reason(second) != ReasonSTTTranscribe {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonLLMGenerate) != nil {
		t.Fatalf("expected nil wrap to stay nil")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
