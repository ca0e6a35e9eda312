package loopconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, Default())
	}
}

func TestLoad_ParsesRecognizedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	body := "CODEX_TIMEOUT_MINUTES=30 # comment\n\n# full line comment\nMAX_ITERATIONS=0\nMAX_MISSING_STATUS=5\nTEST_COMMAND=go test ./...\nUNKNOWN_KEY=ignored\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{
		CodexTimeoutMinutes: 30,
		MaxIterations:       0,
		MaxMissingStatus:    5,
		TestCommand:         "go test ./...",
	}
	if cfg != want {
		t.Fatalf("cfg = %+v, want %+v", cfg, want)
	}
}

func TestLoad_RejectsNonPositiveTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	os.WriteFile(path, []byte("CODEX_TIMEOUT_MINUTES=0\n"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for non-positive timeout")
	}
}

func TestLoad_RejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	os.WriteFile(path, []byte("not a kv line\n"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoad_RejectsEmptyValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	os.WriteFile(path, []byte("MAX_ITERATIONS=# just a comment\n"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty value")
	}
}
