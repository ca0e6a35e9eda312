package workstatus

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsEmptyV1(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f, err := Load(filepath.Join(t.TempDir(), "work-status.json"), now)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Version != 1 || len(f.Items) != 0 {
		t.Fatalf("unexpected empty file: %+v", f)
	}
}

func TestEnsureItem_InsertsOnlyWhenAbsent(t *testing.T) {
	now := time.Now()
	f := File{Items: map[string]Item{}}
	EnsureItem(&f, "t1", ItemTypeTask, now)
	if f.Items["t1"].State != StateNotStarted {
		t.Fatalf("expected not_started, got %v", f.Items["t1"].State)
	}

	f.Items["t1"] = Item{Key: "t1", ItemType: ItemTypeTask, State: StateComplete}
	EnsureItem(&f, "t1", ItemTypeTask, now)
	if f.Items["t1"].State != StateComplete {
		t.Fatalf("EnsureItem must not overwrite existing item, got %v", f.Items["t1"].State)
	}
}

func TestWriteThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "work-status.json")
	now := time.Now()

	f := File{Version: 1, UpdatedAt: now.UTC().Format(time.RFC3339), Items: map[string]Item{}}
	EnsureItem(&f, "task-1", ItemTypeTask, now)
	item := f.Items["task-1"]
	item.State = StateInProgress
	item.Attempts = 1
	f.Items["task-1"] = item

	if err := Write(path, f); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, err := Load(path, now)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Items["task-1"].State != StateInProgress || loaded.Items["task-1"].Attempts != 1 {
		t.Fatalf("round trip mismatch: %+v", loaded.Items["task-1"])
	}
}

func TestTouch_StampsItemAndFile(t *testing.T) {
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	f := File{Version: 1, UpdatedAt: earlier.Format(time.RFC3339), Items: map[string]Item{}}
	EnsureItem(&f, "task-1", ItemTypeTask, earlier)

	Touch(&f, "task-1", later)

	want := later.UTC().Format(time.RFC3339)
	if f.Items["task-1"].LastUpdated != want {
		t.Fatalf("item LastUpdated = %q, want %q", f.Items["task-1"].LastUpdated, want)
	}
	if f.UpdatedAt != want {
		t.Fatalf("file UpdatedAt = %q, want %q", f.UpdatedAt, want)
	}
}

func TestLoad_MalformedIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work-status.json")
	if err := writeRaw(path, "not json"); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	if _, err := Load(path, time.Now()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
