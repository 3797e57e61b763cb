package priority

import "testing"

func TestHighLanePreemptsLow(t *testing.T) {
	q := New(4, 4, 3)
	defer q.Close()
	if !q.TryPushLow("media") {
		t.Fatalf("low push failed")
	}
	if !q.TryPushHigh("clear") {
		t.Fatalf("high push failed")
	}
	got, ok := q.Pop()
	if !ok || got != "clear" {
		t.Fatalf("expected high item first, got %v", got)
	}
	got, ok = q.Pop()
	if !ok || got != "media" {
		t.Fatalf("expected low item second, got %v", got)
	}
}

func TestTryPushFullLane(t *testing.T) {
	q := New(1, 1, 3)
	defer q.Close()
	if !q.TryPushHigh(1) {
		t.Fatalf("first push failed")
	}
	if q.TryPushHigh(2) {
		t.Fatalf("expected push to fail on full lane")
	}
}

func TestPopAfterClose(t *testing.T) {
	q := New(1, 1, 3)
	q.Close()
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected Pop to report closed")
	}
}
