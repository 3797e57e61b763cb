package conversation

import (
	"fmt"
	"testing"
	"time"
)

func TestAppendTurnEvictsOldest(t *testing.T) {
	s := NewCallSession("CA1", "twilio", "MZ1", "CA1", "+15550001", 3)
	for i := 0; i < 5; i++ {
		s.AppendTurn(Turn{UserText: fmt.Sprintf("u%d", i), AssistantText: fmt.Sprintf("a%d", i)})
	}
	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(hist))
	}
	if hist[0].UserText != "u2" || hist[2].UserText != "u4" {
		t.Fatalf("unexpected eviction order: %+v", hist)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewCallSession("CA1", "twilio", "MZ1", "CA1", "+15550001", 0)
	if err := s.Transition(StateListening); err != nil {
		t.Fatalf("transition: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	s.AppendTurn(Turn{UserText: "hello", AssistantText: "hi", StartedAt: now, EndedAt: now})
	s.MarkTransferred()

	data, err := s.Snapshot(2)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := NewCallSession("CA1", "twilio", "MZ2", "CA1", "+15550001", 0)
	streak, err := restored.RestoreSnapshot(data)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if streak != 2 {
		t.Fatalf("expected streak 2, got %d", streak)
	}
	if restored.State() != StateListening {
		t.Fatalf("expected LISTENING restored, got %s", restored.State())
	}
	if !restored.TransferTriggered() {
		t.Fatalf("expected transfer flag restored")
	}
	hist := restored.History()
	if len(hist) != 1 || hist[0].UserText != "hello" || hist[0].AssistantText != "hi" {
		t.Fatalf("history not restored: %+v", hist)
	}
}

func TestRestoreSnapshotRejectsGarbage(t *testing.T) {
	s := NewCallSession("CA1", "twilio", "MZ1", "CA1", "+15550001", 0)
	if _, err := s.RestoreSnapshot([]byte("{not json")); err == nil {
		t.Fatalf("expected error for malformed snapshot")
	}
}
