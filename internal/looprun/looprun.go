// Package looprun implements the simple (non per-task) loop driver: it
// repeatedly invokes the agent against the "execute" step until the
// captured status block, or a gate condition, says to stop.
package looprun

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loopr-dev/loopr/internal/agent"
	"github.com/loopr-dev/loopr/internal/errs"
	"github.com/loopr-dev/loopr/internal/fsatomic"
	"github.com/loopr-dev/loopr/internal/loopconfig"
	"github.com/loopr-dev/loopr/internal/rootresolve"
	"github.com/loopr-dev/loopr/internal/statusblock"
	"github.com/loopr-dev/loopr/internal/steps"
)

// Event status values reported through LoopOptions.Progress.
const (
	EventStart = "start"
	EventDone  = "done"
	EventExit  = "exit"
	EventError = "error"
)

// LoopOptions configures one call to Run.
type LoopOptions struct {
	LooprRoot     string // override root; empty walks upward from cwd
	MaxIterations int64  // > 0 overrides the configured cap
	CodexArgs     []string
	Progress      func(LoopEvent)
}

// LoopReport is Run's outcome.
type LoopReport struct {
	Iterations  int64
	ExitReason  string
	LastSession *agent.Session
}

// LoopEvent reports progress at an iteration boundary.
type LoopEvent struct {
	Iteration int64
	Status    string
	Details   string
}

type loopState struct {
	iteration          int64
	missingStatusCount int64
}

// statusPayload mirrors the on-disk status.json shape: pretty JSON with a
// trailing newline, optional fields omitted when empty.
type statusPayload struct {
	State       string `json:"state"`
	Iteration   int64  `json:"iteration"`
	UpdatedAt   string `json:"updated_at"`
	ExitReason  string `json:"exit_reason,omitempty"`
	LastSummary string `json:"last_summary,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Run drives the execute step in a loop until an exit condition fires.
func Run(opts LoopOptions) (LoopReport, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return LoopReport{}, errs.IO("get working directory", err)
	}
	root, repoID, err := rootresolve.Resolve(cwd, opts.LooprRoot)
	if err != nil {
		return LoopReport{}, err
	}
	handoffPath, err := ensureHandoff(root)
	if err != nil {
		return LoopReport{}, err
	}
	step, ok := steps.Find(steps.Default(), "execute")
	if !ok {
		return LoopReport{}, errs.AgentFailure("execute step not found")
	}

	loopDir := filepath.Join(root, "loopr")
	stateDir := filepath.Join(loopDir, "state")
	configPath := filepath.Join(loopDir, "config")
	statusPath := filepath.Join(stateDir, "status.json")

	cfg, err := loopconfig.Load(configPath)
	if err != nil {
		return LoopReport{}, err
	}
	if opts.MaxIterations > 0 {
		cfg.MaxIterations = opts.MaxIterations
	}

	state := loopState{}
	report := LoopReport{}

	for {
		if cfg.MaxIterations > 0 && state.iteration >= cfg.MaxIterations {
			report.ExitReason = "max_iterations"
			if err := writeLoopStatus(statusPath, statusPayload{
				State:      "complete",
				Iteration:  state.iteration,
				UpdatedAt:  nowRFC3339(),
				ExitReason: report.ExitReason,
			}); err != nil {
				return report, err
			}
			break
		}

		nextIteration := state.iteration + 1
		emit(opts.Progress, nextIteration, EventStart, "")

		prompt := buildLoopPrompt(step, handoffPath, nextIteration)
		args := append([]string{"--cd", root}, opts.CodexArgs...)
		args = append(args, prompt)

		var timeout time.Duration
		if cfg.CodexTimeoutMinutes > 0 {
			timeout = time.Duration(cfg.CodexTimeoutMinutes) * time.Minute
		}
		run, err := agent.Supervise(root, repoID, args, agent.Options{
			LooprRoot: root,
			Mode:      agent.ModeExec,
			Prompt:    prompt,
		}, timeout)
		if err != nil {
			return report, err
		}

		runErr := codexError(run)
		report.LastSession = &run.Session
		state.iteration = nextIteration

		status, statusFound, parseErr := statusblock.ParseFromFile(run.Session.LogPath)
		if parseErr != nil && runErr == nil {
			runErr = parseErr
		}

		if runErr != nil {
			if status.Summary == "" {
				status.Summary = runErr.Error()
			}
			status.Status = "ERROR"
			status.ExitSignal = false
		}

		exitReason, exitState := evaluateLoopExit(cfg, status, statusFound, &state)

		payload := statusPayload{
			State:      exitState,
			Iteration:  state.iteration,
			UpdatedAt:  nowRFC3339(),
			ExitReason: exitReason,
		}
		if status.Summary != "" {
			payload.LastSummary = status.Summary
		}
		switch {
		case runErr != nil:
			payload.LastError = runErr.Error()
		case !statusFound:
			payload.LastError = "missing LOOPR_STATUS block"
		}

		if err := writeLoopStatus(statusPath, payload); err != nil {
			return report, err
		}

		if exitReason != "" {
			report.ExitReason = exitReason
			emit(opts.Progress, state.iteration, EventExit, exitReason)
			break
		}

		if runErr != nil {
			emit(opts.Progress, state.iteration, EventError, runErr.Error())
			return report, runErr
		}

		emit(opts.Progress, state.iteration, EventDone, "")
	}

	report.Iterations = state.iteration
	return report, nil
}

func emit(progress func(LoopEvent), iteration int64, status, details string) {
	if progress == nil {
		return
	}
	progress(LoopEvent{Iteration: iteration, Status: status, Details: details})
}

func buildLoopPrompt(step steps.Step, handoffPath string, iteration int64) string {
	lines := []string{fmt.Sprintf("Loopr loop iteration: %d", iteration)}
	lines = append(lines, steps.BuildPromptLines(step, "", handoffPath)...)
	lines = append(lines,
		"- Only set EXIT_SIGNAL: true when all tasks are complete and tests are green.",
		"- Always include the status block at the end of your response.",
		"",
		"Status block format (required):",
		statusblock.StartDelimiter,
		"STATUS: IN_PROGRESS | COMPLETE | BLOCKED | ERROR",
		"EXIT_SIGNAL: true | false",
		"SUMMARY: <short summary>",
		statusblock.EndDelimiter,
		"",
		fmt.Sprintf("Run the prompt: %s", step.Skill),
	)
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// evaluateLoopExit applies the exit-decision table in order, mutating
// state's missing-status counter as a side effect.
func evaluateLoopExit(cfg loopconfig.Config, status statusblock.Status, statusFound bool, state *loopState) (reason, exitState string) {
	if statusFound {
		state.missingStatusCount = 0
	} else {
		state.missingStatusCount++
	}
	if !statusFound && state.missingStatusCount >= cfg.MaxMissingStatus {
		return "missing_status", "error"
	}

	if status.ExitSignal || status.Status == "COMPLETE" {
		return "completed", "complete"
	}
	switch status.Status {
	case "BLOCKED":
		return "blocked", "blocked"
	case "ERROR":
		return "error", "error"
	default:
		return "", "running"
	}
}

func writeLoopStatus(path string, payload statusPayload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errs.IO("serialize status", err)
	}
	data = append(data, '\n')
	if err := fsatomic.WriteFileAtomic(path, data, 0o644); err != nil {
		return errs.IO("write "+path, err)
	}
	return nil
}

func ensureHandoff(root string) (string, error) {
	path := filepath.Join(root, "loopr", "state", "handoff.md")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := fsatomic.EnsureDir(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	header := fmt.Sprintf("# Loopr Handoff\n\nInitialized: %s\n\n", nowRFC3339())
	if err := fsatomic.WriteFileAtomic(path, []byte(header), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func codexError(run agent.Run) error {
	if run.TimedOut {
		return errs.AgentFailure("codex timed out")
	}
	if run.ErrorMessage != "" {
		return errs.AgentFailure(run.ErrorMessage)
	}
	if run.ExitCode != 0 {
		return errs.AgentFailure(fmt.Sprintf("exit status %d", run.ExitCode))
	}
	return nil
}
