package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWriteRawAtomicAndRemovable(t *testing.T) {
	s := NewStore(t.TempDir())

	path, err := s.WriteRaw("2024030100", strings.NewReader("grib-bytes"))
	if err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if path != s.RawPath("2024030100") {
		t.Errorf("WriteRaw path = %s, want %s", path, s.RawPath("2024030100"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw artifact: %v", err)
	}
	if string(data) != "grib-bytes" {
		t.Errorf("raw artifact content = %q", data)
	}

	// No temp files may survive a successful write.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read raw dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}

	if err := s.RemoveRaw("2024030100"); err != nil {
		t.Fatalf("RemoveRaw: %v", err)
	}
	if s.RawExists("2024030100") {
		t.Error("raw artifact still present after RemoveRaw")
	}
	// Removing twice is fine.
	if err := s.RemoveRaw("2024030100"); err != nil {
		t.Fatalf("second RemoveRaw: %v", err)
	}
}

func TestExistsReflectsStructuredArea(t *testing.T) {
	s := NewStore(t.TempDir())

	if s.Exists("2024030100") {
		t.Error("Exists true on empty cache")
	}
	writeFile(t, s.StructuredPath("2024030100"), "{}")
	if !s.Exists("2024030100") {
		t.Error("Exists false with structured artifact on disk")
	}
	if s.Exists("2024030106") {
		t.Error("Exists true for a different key")
	}
}

func TestReconcileOrphansRemovesUnpairedUntracked(t *testing.T) {
	s := NewStore(t.TempDir())

	// Orphans from a previous, crashed process: no pairs, nothing tracked.
	writeFile(t, s.RawPath("2024030100"), "raw-only")
	writeFile(t, s.StructuredPath("2024030106"), "structured-only")
	writeFile(t, filepath.Join(s.rawDir, "2024030112.abc123.tmp"), "partial")

	removed, err := s.ReconcileOrphans()
	if err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if s.RawExists("2024030100") {
		t.Error("orphaned raw artifact survived")
	}
	if s.Exists("2024030106") {
		t.Error("orphaned structured artifact survived")
	}

	// Idempotent: a second run has nothing left to do.
	removed, err = s.ReconcileOrphans()
	if err != nil {
		t.Fatalf("second ReconcileOrphans: %v", err)
	}
	if removed != 0 {
		t.Errorf("second run removed %d files, want 0", removed)
	}
}

func TestReconcileOrphansKeepsTrackedKeys(t *testing.T) {
	s := NewStore(t.TempDir())

	// Normal steady state for a key this process produced: structured
	// artifact only, raw deleted after conversion.
	s.Track("2024030100")
	writeFile(t, s.StructuredPath("2024030100"), "{}")
	// Tracked in-flight download: raw only, conversion not done yet.
	s.Track("2024030106")
	writeFile(t, s.RawPath("2024030106"), "raw")

	removed, err := s.ReconcileOrphans()
	if err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if !s.Exists("2024030100") {
		t.Error("tracked structured artifact was removed")
	}
	if !s.RawExists("2024030106") {
		t.Error("tracked raw artifact was removed")
	}
}

func TestCheckFreshnessRefetchesExactlyStaleKeys(t *testing.T) {
	s := NewStore(t.TempDir())

	stale := s.StructuredPath("2024030100")
	fresh := s.StructuredPath("2024030106")
	writeFile(t, stale, "{}")
	writeFile(t, fresh, "{}")

	old := time.Now().Add(-25 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	got := make(chan time.Time, 4)
	if err := s.CheckFreshness(24*time.Hour, func(ts time.Time) { got <- ts }); err != nil {
		t.Fatalf("CheckFreshness: %v", err)
	}

	select {
	case ts := <-got:
		want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		if !ts.Equal(want) {
			t.Errorf("refetch time = %s, want %s", ts, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no refetch triggered for stale artifact")
	}

	select {
	case ts := <-got:
		t.Errorf("unexpected extra refetch for %s", ts)
	case <-time.After(100 * time.Millisecond):
	}
}
