package agent

import (
	"strings"
	"testing"
	"time"
)

func TestNewSessionPaths_PairsLogAndMeta(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)

	logPath, metaPath, err := newSessionPaths(dir, now)
	if err != nil {
		t.Fatalf("newSessionPaths: %v", err)
	}

	logBase := baseName(logPath)
	if !strings.HasPrefix(logBase, "session-20260126-120000-") {
		t.Fatalf("log base = %q, want session-20260126-120000- prefix", logBase)
	}
	if !strings.HasSuffix(logBase, ".log") {
		t.Fatalf("log base = %q, want .log suffix", logBase)
	}

	metaBase := baseName(metaPath)
	if !strings.HasSuffix(metaBase, ".jsonl") {
		t.Fatalf("meta base = %q, want .jsonl suffix", metaBase)
	}

	logStem := strings.TrimSuffix(logBase, ".log")
	metaStem := strings.TrimSuffix(metaBase, ".jsonl")
	if logStem != metaStem {
		t.Fatalf("log stem %q != meta stem %q", logStem, metaStem)
	}
}

func baseName(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func TestBuildCodexArgs_ExecPrefixesSubcommand(t *testing.T) {
	args := []string{"--cd", "/repo", "prompt"}
	full := buildCodexArgs(args, ModeExec)
	if full[0] != "exec" {
		t.Fatalf("full[0] = %q, want exec", full[0])
	}
	for i, a := range args {
		if full[i+1] != a {
			t.Fatalf("full[%d] = %q, want %q", i+1, full[i+1], a)
		}
	}
}

func TestBuildCodexArgs_InteractivePassthrough(t *testing.T) {
	args := []string{"--cd", "/repo"}
	full := buildCodexArgs(args, ModeInteractive)
	if len(full) != len(args) {
		t.Fatalf("len(full) = %d, want %d", len(full), len(args))
	}
	for i, a := range args {
		if full[i] != a {
			t.Fatalf("full[%d] = %q, want %q", i, full[i], a)
		}
	}
}

func TestExitCodeFromWait_NilIsZero(t *testing.T) {
	if code := exitCodeFromWait(nil); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
}

func TestPromptHash_Deterministic(t *testing.T) {
	a := promptHash("same prompt")
	b := promptHash("same prompt")
	if a != b {
		t.Fatalf("hash not deterministic: %q vs %q", a, b)
	}
	if promptHash("different") == a {
		t.Fatalf("different prompts hashed identically")
	}
}
