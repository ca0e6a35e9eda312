package docsindex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
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

func TestWrite_CollectsKnownFilesAndSummaries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "README.md"), "# Project Title\nbody\n")
	writeFile(t, filepath.Join(dir, "docs", "guide.md"), "plain first line\n")
	writeFile(t, filepath.Join(dir, "specs", "task-order.yaml"), "version: 1\ntasks: []\n")

	path, err := Write(dir)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "README.md\t") || !strings.Contains(content, "Project Title") {
		t.Fatalf("missing README entry:\n%s", content)
	}
	if !strings.Contains(content, "docs/guide.md") || !strings.Contains(content, "plain first line") {
		t.Fatalf("missing docs entry:\n%s", content)
	}
	if !strings.Contains(content, "task-order.yaml") {
		t.Fatalf("missing spec order entry:\n%s", content)
	}
}

func TestTruncateSummary_ClampsLongLines(t *testing.T) {
	long := strings.Repeat("x", 200)
	got := truncateSummary(long)
	if len(got) != summaryLimit+3 {
		t.Fatalf("len(got) = %d, want %d", len(got), summaryLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ... suffix, got %q", got)
	}
}

func TestSummarizeFile_EmptyFileYieldsEmptyLabel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.md")
	writeFile(t, path, "")

	_, summary, err := summarizeFile(dir, "empty.md")
	if err != nil {
		t.Fatalf("summarizeFile: %v", err)
	}
	if summary != "empty" {
		t.Fatalf("summary = %q, want empty", summary)
	}
}
