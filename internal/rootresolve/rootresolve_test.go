package rootresolve

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRepoID(t *testing.T, root, id string) {
	t.Helper()
	dir := filepath.Join(root, "loopr")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "repo-id"), []byte(id+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestFind_WalksUpward(t *testing.T) {
	root := t.TempDir()
	writeRepoID(t, root, "abc123")

	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	gotRoot, gotID, err := Find(nested)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if gotRoot != root {
		t.Fatalf("root = %q, want %q", gotRoot, root)
	}
	if gotID != "abc123" {
		t.Fatalf("id = %q, want abc123", gotID)
	}
}

func TestFind_NotInitialized(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Find(dir)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestFind_EmptyRepoIDIsDistinctError(t *testing.T) {
	root := t.TempDir()
	writeRepoID(t, root, "")
	_, _, err := Find(root)
	if err == nil {
		t.Fatalf("expected error for empty repo-id")
	}
}

func TestResolve_OverrideBypassesWalk(t *testing.T) {
	root := t.TempDir()
	writeRepoID(t, root, "override-id")

	gotRoot, gotID, err := Resolve("/nonexistent/start", root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotRoot != root || gotID != "override-id" {
		t.Fatalf("got (%q, %q)", gotRoot, gotID)
	}
}
