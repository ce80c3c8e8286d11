package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hearthwork.ai/internal/sim/project"
)

func readLines(t *testing.T, path string) []Entry {
	t.Helper()
	var out []Entry
	if err := readFile(path, func(e Entry) error { out = append(out, e); return nil }); err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return out
}

func TestEventLogRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLog(dir, "run-a", nil)
	clock := time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	l.Emit(project.Event{Step: 1, Kind: project.EventCreated, Project: "P1", ProjectKind: "construct"})
	l.Emit(project.Event{Step: 2, Kind: project.EventPhase, Project: "P1", Phase: "hauling"})
	clock = clock.Add(2 * time.Minute)
	l.Emit(project.Event{Step: 3, Kind: project.EventCompleted, Project: "P1"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.Failures() != 0 {
		t.Fatalf("failures=%d", l.Failures())
	}

	first := readLines(t, filepath.Join(dir, "events", "events-2026-03-01-09.jsonl.zst"))
	second := readLines(t, filepath.Join(dir, "events", "events-2026-03-01-10.jsonl.zst"))
	if len(first) != 2 || len(second) != 1 {
		t.Fatalf("lines per hour=%d,%d want 2,1", len(first), len(second))
	}
	if first[1].Phase != "hauling" || first[1].RunID != "run-a" {
		t.Fatalf("entry=%+v", first[1])
	}
	if second[0].Kind != project.EventCompleted || second[0].Step != 3 {
		t.Fatalf("entry=%+v", second[0])
	}
}

func TestWriterReopensAfterClose(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(map[string]int{"a": 2}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	// Appended zstd frames decode as one stream.
	got := readLines(t, filepath.Join(dir, "x-2026-03-01-12.jsonl.zst"))
	if len(got) != 2 {
		t.Fatalf("lines=%d want 2", len(got))
	}
}

func TestReadEventsWalksHoursInOrder(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLog(dir, "run-r", nil)
	clock := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }
	for step := uint64(1); step <= 4; step++ {
		l.Emit(project.Event{Step: step, Kind: project.EventPhase, Project: "P1", Phase: "making"})
		clock = clock.Add(20 * time.Minute)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	events := filepath.Join(dir, "events")
	if err := os.WriteFile(filepath.Join(events, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	var steps []uint64
	err := ReadEvents(events, func(e Entry) error {
		steps = append(steps, e.Step)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(steps) != 4 || steps[0] != 1 || steps[3] != 4 {
		t.Fatalf("steps=%v", steps)
	}

	stop := errors.New("stop")
	n := 0
	err = ReadEvents(events, func(Entry) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("err=%v after %d entries", err, n)
	}
}
