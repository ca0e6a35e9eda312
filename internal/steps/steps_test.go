package steps

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPlan_FullListByDefault(t *testing.T) {
	got, err := Plan("", "", "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(got) != len(Default()) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(Default()))
	}
	if got[0].Name != "prd" {
		t.Fatalf("got[0].Name = %q, want prd", got[0].Name)
	}
}

func TestPlan_SingleStepTakesPriority(t *testing.T) {
	got, err := Plan("spec", "tasks", "tests")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(got) != 1 || got[0].Name != "spec" {
		t.Fatalf("got = %+v, want single spec step", got)
	}
}

func TestPlan_UnknownStepIsUsageError(t *testing.T) {
	_, err := Plan("bogus", "", "")
	if err == nil {
		t.Fatalf("expected error for unknown step")
	}
}

func TestSelectRange_TasksToTests(t *testing.T) {
	got, err := SelectRange(Default(), "tasks", "tests")
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	if len(got) != 2 || got[0].Name != "tasks" || got[1].Name != "tests" {
		t.Fatalf("got = %+v, want [tasks tests]", got)
	}
}

func TestSelectRange_InvertedBoundsIsError(t *testing.T) {
	_, err := SelectRange(Default(), "tests", "tasks")
	if err == nil {
		t.Fatalf("expected error for inverted range")
	}
}

func TestBuildPromptLines_DeduplicatesInputs(t *testing.T) {
	step := Step{
		Name:   "spec",
		Skill:  "loopr-specify",
		Inputs: []string{"a.md", "a.md", "b.md"},
	}
	lines := BuildPromptLines(step, "", "loopr/state/handoff.md")
	count := 0
	for _, l := range lines {
		if l == "- a.md" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected a.md to appear once, got %d", count)
	}
}

func TestBuildPromptLines_AllowRepoReadAddsReadOnlyLine(t *testing.T) {
	step, ok := Find(Default(), "execute")
	if !ok {
		t.Fatal("execute step not found")
	}
	lines := BuildPromptLines(step, "", "loopr/state/handoff.md")
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "Repo files as needed (read-only).") {
		t.Fatalf("expected repo-read line, got:\n%s", joined)
	}
}

func TestOutputsSatisfied_AllPresent(t *testing.T) {
	dir := t.TempDir()
	step, ok := Find(Default(), "prd")
	if !ok {
		t.Fatal("prd step not found")
	}
	if err := os.MkdirAll(filepath.Join(dir, "specs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "specs", "prd.md"), []byte("# PRD\n"), 0o644); err != nil {
		t.Fatalf("write prd.md: %v", err)
	}

	ok, missing, err := OutputsSatisfied(dir, step)
	if err != nil {
		t.Fatalf("OutputsSatisfied: %v", err)
	}
	if !ok || len(missing) != 0 {
		t.Fatalf("ok=%v missing=%v, want satisfied", ok, missing)
	}
}

func TestOutputsSatisfied_MissingGlobOutput(t *testing.T) {
	dir := t.TempDir()
	step, ok := Find(Default(), "features")
	if !ok {
		t.Fatal("features step not found")
	}

	ok, missing, err := OutputsSatisfied(dir, step)
	if err != nil {
		t.Fatalf("OutputsSatisfied: %v", err)
	}
	if ok {
		t.Fatalf("expected unsatisfied outputs, got ok=true")
	}
	if len(missing) != 2 {
		t.Fatalf("missing = %v, want both output patterns", missing)
	}
}

func TestBuildTaskPromptLines_PBTClauseInTestsPhase(t *testing.T) {
	step, _ := Find(Default(), "tests")
	lines := BuildTaskPromptLines(step, "loopr/state/handoff.md", "test-1", "test", "tests", true)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "must fail on its first run") {
		t.Fatalf("expected PBT clause, got:\n%s", joined)
	}
	if !strings.Contains(joined, "Item key: test-1") {
		t.Fatalf("expected item key line, got:\n%s", joined)
	}
}
