package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calluna-ai/calluna/pkg/metrics"
)

func TestTimelineWritesPerStreamFile(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	defer obs.Close()

	obs.RecordEvent(metrics.MetricsEvent{
		Name: "turn_done",
		Time: time.Now(),
		Tags: map[string]string{"stream_id": "MZtl01", "outcome": "ok"},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name: "barge_in",
		Time: time.Now(),
		Tags: map[string]string{"stream_id": "MZtl01"},
	})

	data, err := os.ReadFile(filepath.Join(dir, "MZtl01.jsonl"))
	if err != nil {
		t.Fatalf("read timeline: %v", err)
	}
	var first timelineEvent
	if err := json.Unmarshal([]byte(splitFirstLine(data)), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.Event != "turn_done" || first.StreamID != "MZtl01" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
}

func TestTimelineIgnoresEventsWithoutID(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	defer obs.Close()

	obs.RecordEvent(metrics.MetricsEvent{Name: "orphan", Time: time.Now()})

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, got %d", len(entries))
	}
}

func TestPurgeArtifactsRemovesOnlyStale(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "old.jsonl")
	fresh := filepath.Join(dir, "new.jsonl")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := PurgeArtifacts(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file should survive: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file should be gone")
	}
}

func splitFirstLine(data []byte) string {
	for i, b := range data {
		if b == '\n' {
			return string(data[:i])
		}
	}
	return string(data)
}
