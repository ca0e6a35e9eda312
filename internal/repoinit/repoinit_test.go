package repoinit

import (
	"os"
	"path/filepath"
	"testing"
)

type zeroSource struct{}

func (zeroSource) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestInit_CreatesRepoIDAndLayout(t *testing.T) {
	dir := t.TempDir()
	report, err := Init(Options{Root: dir, Rand: zeroSource{}})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !report.RepoIDCreated {
		t.Fatalf("expected RepoIDCreated = true")
	}
	if report.RepoID != "uuuuuu" {
		t.Fatalf("RepoID = %q, want uuuuuu", report.RepoID)
	}
	if _, err := os.Stat(filepath.Join(dir, "loopr", "repo-id")); err != nil {
		t.Fatalf("repo-id not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "loopr", ".gitignore")); err != nil {
		t.Fatalf(".gitignore not written: %v", err)
	}
	if _, err := os.Stat(report.TranscriptsDir); err != nil {
		t.Fatalf("transcripts dir not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "AGENTS.md")); err != nil {
		t.Fatalf("AGENTS.md not written: %v", err)
	}
}

func TestInit_NoAgentsSkipsStarterFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(Options{Root: dir, Rand: zeroSource{}, NoAgents: true}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "AGENTS.md")); err == nil {
		t.Fatalf("AGENTS.md should not be written with NoAgents")
	}
}

func TestInit_IsIdempotentOnRepoID(t *testing.T) {
	dir := t.TempDir()
	first, err := Init(Options{Root: dir, Rand: zeroSource{}})
	if err != nil {
		t.Fatalf("first Init: %v", err)
	}
	second, err := Init(Options{Root: dir, Rand: zeroSource{}})
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if second.RepoIDCreated {
		t.Fatalf("second init should not recreate repo-id")
	}
	if second.RepoID != first.RepoID {
		t.Fatalf("repo id changed across init calls: %q != %q", first.RepoID, second.RepoID)
	}
}
