package looprun

import (
	"strings"
	"testing"

	"github.com/loopr-dev/loopr/internal/loopconfig"
	"github.com/loopr-dev/loopr/internal/statusblock"
	"github.com/loopr-dev/loopr/internal/steps"
)

func TestEvaluateLoopExit_MissingStatusGateAfterTwoMisses(t *testing.T) {
	cfg := loopconfig.Config{MaxMissingStatus: 2}
	state := &loopState{}

	reason, exitState := evaluateLoopExit(cfg, statusblock.Status{}, false, state)
	if reason != "" {
		t.Fatalf("first miss: reason = %q, want empty", reason)
	}

	reason, exitState = evaluateLoopExit(cfg, statusblock.Status{}, false, state)
	if reason != "missing_status" || exitState != "error" {
		t.Fatalf("second miss: got (%q, %q), want (missing_status, error)", reason, exitState)
	}
}

func TestEvaluateLoopExit_FoundStatusResetsMissingCounter(t *testing.T) {
	cfg := loopconfig.Config{MaxMissingStatus: 2}
	state := &loopState{missingStatusCount: 1}

	_, _ = evaluateLoopExit(cfg, statusblock.Status{Status: "IN_PROGRESS"}, true, state)
	if state.missingStatusCount != 0 {
		t.Fatalf("missingStatusCount = %d, want 0", state.missingStatusCount)
	}
}

func TestEvaluateLoopExit_ExitSignalOrCompleteWins(t *testing.T) {
	cfg := loopconfig.Config{MaxMissingStatus: 2}

	reason, exitState := evaluateLoopExit(cfg, statusblock.Status{ExitSignal: true}, true, &loopState{})
	if reason != "completed" || exitState != "complete" {
		t.Fatalf("exit_signal case: got (%q, %q)", reason, exitState)
	}

	reason, exitState = evaluateLoopExit(cfg, statusblock.Status{Status: "COMPLETE"}, true, &loopState{})
	if reason != "completed" || exitState != "complete" {
		t.Fatalf("STATUS=COMPLETE case: got (%q, %q)", reason, exitState)
	}
}

func TestEvaluateLoopExit_BlockedAndError(t *testing.T) {
	cfg := loopconfig.Config{MaxMissingStatus: 2}

	reason, exitState := evaluateLoopExit(cfg, statusblock.Status{Status: "BLOCKED"}, true, &loopState{})
	if reason != "blocked" || exitState != "blocked" {
		t.Fatalf("BLOCKED case: got (%q, %q)", reason, exitState)
	}

	reason, exitState = evaluateLoopExit(cfg, statusblock.Status{Status: "ERROR"}, true, &loopState{})
	if reason != "error" || exitState != "error" {
		t.Fatalf("ERROR case: got (%q, %q)", reason, exitState)
	}
}

func TestEvaluateLoopExit_InProgressContinues(t *testing.T) {
	cfg := loopconfig.Config{MaxMissingStatus: 2}
	reason, exitState := evaluateLoopExit(cfg, statusblock.Status{Status: "IN_PROGRESS"}, true, &loopState{})
	if reason != "" || exitState != "running" {
		t.Fatalf("got (%q, %q), want (\"\", running)", reason, exitState)
	}
}

func TestBuildLoopPrompt_IncludesStatusBlockTemplate(t *testing.T) {
	step, _ := steps.Find(steps.Default(), "execute")
	prompt := buildLoopPrompt(step, "loopr/state/handoff.md", 3)
	if !strings.Contains(prompt, "Loopr loop iteration: 3") {
		t.Fatalf("missing iteration header:\n%s", prompt)
	}
	if !strings.Contains(prompt, statusblock.StartDelimiter) || !strings.Contains(prompt, statusblock.EndDelimiter) {
		t.Fatalf("missing status block delimiters:\n%s", prompt)
	}
}
