// Package ux renders loopr's console progress output: step headers, loop
// iteration status, and per-task scheduler events.
package ux

import (
	"fmt"
	"time"

	"github.com/loopr-dev/loopr/internal/looprun"
	"github.com/loopr-dev/loopr/internal/pertask"
	"github.com/loopr-dev/loopr/internal/steps"
	"github.com/loopr-dev/loopr/internal/workflow"
)

// ANSI color helpers
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// StepHeader prints a timestamped header for one planned step.
func StepHeader(index, total int, step steps.Step) {
	fmt.Printf("\n%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
	fmt.Printf("%s[%s]%s  %sStep %d/%d: %s (%s)%s\n",
		Dim, timestamp(), Reset, Bold, index, total, step.Name, step.Skill, Reset)
	fmt.Printf("%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
}

// StepDone prints a step completion message.
func StepDone(index int, stepName string) {
	fmt.Printf("%s[%s]%s  %s✓ Step %d (%s) done%s\n",
		Dim, timestamp(), Reset, Green, index, stepName, Reset)
}

// StepFailed prints a step failure message.
func StepFailed(index int, stepName, errMsg string) {
	fmt.Printf("%s[%s]%s  %s✗ Step %d (%s) failed: %s%s\n",
		Dim, timestamp(), Reset, Red, index, stepName, errMsg, Reset)
}

// WorkflowProgress adapts a workflow.ProgressEvent into the StepHeader/
// StepDone/StepFailed calls above; pass as workflow.RunOptions.Progress.
func WorkflowProgress(event workflow.ProgressEvent) {
	switch event.Status {
	case workflow.ProgressStart:
		StepHeader(event.Index, event.Total, event.Step)
	case workflow.ProgressDone:
		StepDone(event.Index, event.Step.Name)
	case workflow.ProgressError:
		StepFailed(event.Index, event.Step.Name, "see transcript")
	}
}

// LoopIteration prints a single loop-mode iteration status line.
func LoopIteration(event looprun.LoopEvent) {
	if event.Details != "" {
		fmt.Printf("%s[%s]%s  Loop %d %s: %s\n", Dim, timestamp(), Reset, event.Iteration, event.Status, event.Details)
		return
	}
	fmt.Printf("%s[%s]%s  Loop %d %s\n", Dim, timestamp(), Reset, event.Iteration, event.Status)
}

// PerTaskIteration prints a single per-task scheduler iteration status line.
func PerTaskIteration(event pertask.Event) {
	if event.Details != "" {
		fmt.Printf("%s[%s]%s  Iteration %d %s %s: %s\n", Dim, timestamp(), Reset, event.Iteration, event.Key, event.Status, event.Details)
		return
	}
	fmt.Printf("%s[%s]%s  Iteration %d %s %s\n", Dim, timestamp(), Reset, event.Iteration, event.Key, event.Status)
}

// ResumeHint prints a resume command hint after an aborted run.
func ResumeHint(command string) {
	fmt.Printf("\n%sResume:%s %s\n", Yellow, Reset, command)
}

// PlanList prints a dry-run plan listing: a "Step: <name>" header per step,
// followed by its prompt skill and declared inputs/outputs.
func PlanList(planned []steps.Step) {
	for _, step := range planned {
		fmt.Printf("Step: %s\n", step.Name)
		fmt.Printf("  prompt: %s\n", step.Skill)
		for _, input := range step.Inputs {
			fmt.Printf("  input: %s\n", input)
		}
		for _, output := range step.Outputs {
			fmt.Printf("  output: %s\n", output)
		}
	}
}

// Success prints a final success message.
func Success(label string) {
	fmt.Printf("\n%s[%s]%s  %s%s══ %s ══%s\n\n", Dim, timestamp(), Reset, Bold, Green, label, Reset)
}
