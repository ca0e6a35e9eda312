// Package workflow drives one end-to-end or partial run of the
// prd -> spec -> features -> tasks -> tests -> execute pipeline, invoking
// the agent supervisor once per planned step.
package workflow

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loopr-dev/loopr/internal/agent"
	"github.com/loopr-dev/loopr/internal/errs"
	"github.com/loopr-dev/loopr/internal/fsatomic"
	"github.com/loopr-dev/loopr/internal/rootresolve"
	"github.com/loopr-dev/loopr/internal/steps"
)

// Progress status values reported through RunOptions.Progress.
const (
	ProgressStart = "start"
	ProgressDone  = "done"
	ProgressError = "error"
)

// ProgressEvent reports where a run is in its planned step list.
type ProgressEvent struct {
	Step   steps.Step
	Index  int
	Total  int
	Status string
}

// RunOptions configures one call to Run.
type RunOptions struct {
	LooprRoot string // override root; empty walks upward from cwd
	From      string
	To        string
	Step      string
	Seed      string // already resolved (see ResolveSeed); "" if none
	Confirm   bool
	NoPrompt  bool
	Codex     bool
	CodexArgs []string
	Progress  func(ProgressEvent)
}

// RunReport is Run's outcome.
type RunReport struct {
	Steps       []steps.Step
	Executed    []steps.Step
	Skipped     []steps.Step
	LastSession *agent.Session
}

// Run resolves the root, plans the step list from opts, and (when Codex is
// set) drives the agent supervisor once per step in order.
func Run(opts RunOptions) (RunReport, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return RunReport{}, errs.IO("get working directory", err)
	}

	var root, repoID string
	if opts.Codex {
		root, repoID, err = rootresolve.Resolve(cwd, opts.LooprRoot)
		if err != nil {
			return RunReport{}, err
		}
	} else {
		root, err = resolvePlanRoot(cwd, opts.LooprRoot)
		if err != nil {
			return RunReport{}, err
		}
	}

	appendPrompt := !opts.NoPrompt

	if opts.Codex && !appendPrompt {
		args := append([]string{"--cd", root}, opts.CodexArgs...)
		run, err := agent.Supervise(root, repoID, args, agent.Options{
			LooprRoot: root,
			Mode:      agent.ModeInteractive,
		}, 0)
		if err != nil {
			return RunReport{}, err
		}
		report := RunReport{LastSession: &run.Session}
		if err := codexError(run); err != nil {
			return report, err
		}
		return report, nil
	}

	var handoffPath string
	if opts.Codex {
		handoffPath, err = ensureHandoff(root)
		if err != nil {
			return RunReport{}, err
		}
	}

	planned, err := steps.Plan(opts.Step, opts.From, opts.To)
	if err != nil {
		return RunReport{}, err
	}
	report := RunReport{Steps: planned}

	if !opts.Codex {
		return report, nil
	}

	total := len(planned)
	for _, step := range planned {
		idx := len(report.Executed) + len(report.Skipped) + 1

		if appendPrompt && step.RequiresSeed && strings.TrimSpace(opts.Seed) == "" {
			return report, errs.Usage("seed prompt required for %s (use --seed-prompt)", step.Name)
		}
		if opts.Confirm {
			ok, err := confirmStep(step.Name)
			if err != nil {
				return report, err
			}
			if !ok {
				return report, errs.AgentFailure("run cancelled")
			}
		}
		emit(opts.Progress, step, idx, total, ProgressStart)

		args := append([]string{"--cd", root}, opts.CodexArgs...)
		var prompt string
		if appendPrompt {
			prompt = steps.BuildPrompt(step, opts.Seed, handoffPath)
			args = append(args, prompt)
		}

		run, err := agent.Supervise(root, repoID, args, agent.Options{
			LooprRoot: root,
			Mode:      agent.ModeExec,
			Prompt:    prompt,
		}, 0)
		if err != nil {
			emit(opts.Progress, step, idx, total, ProgressError)
			return report, err
		}
		report.LastSession = &run.Session
		if cErr := codexError(run); cErr != nil {
			emit(opts.Progress, step, idx, total, ProgressError)
			return report, cErr
		}
		if err := noteOutputStatus(root, handoffPath, step); err != nil {
			return report, err
		}
		emit(opts.Progress, step, idx, total, ProgressDone)
		report.Executed = append(report.Executed, step)
	}

	return report, nil
}

func emit(progress func(ProgressEvent), step steps.Step, idx, total int, status string) {
	if progress == nil {
		return
	}
	progress(ProgressEvent{Step: step, Index: idx, Total: total, Status: status})
}

// resolvePlanRoot resolves the root used for plan-only (non --codex) runs,
// which do not require an initialized repo.
func resolvePlanRoot(cwd, override string) (string, error) {
	if override == "" {
		return cwd, nil
	}
	if filepath.IsAbs(override) {
		return override, nil
	}
	return filepath.Join(cwd, override), nil
}

// ResolveSeed expands an "@path" seed argument into file contents, or
// returns raw unchanged when it does not start with '@'.
func ResolveSeed(raw string) (string, error) {
	if !strings.HasPrefix(raw, "@") {
		return raw, nil
	}
	path := strings.TrimPrefix(raw, "@")
	if path == "" {
		return "", errs.Usage("seed prompt file path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errs.IO("read seed file "+path, err)
	}
	return string(data), nil
}

func confirmStep(name string) (bool, error) {
	fmt.Printf("Run step %s? [y/N]: ", name)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, errs.IO("read confirmation", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// noteOutputStatus checks step's declared outputs against disk and appends a
// line to handoffPath recording whether they were all satisfied, so the next
// step's agent session can see what the previous one actually produced.
func noteOutputStatus(root, handoffPath string, step steps.Step) error {
	satisfied, missing, err := steps.OutputsSatisfied(root, step)
	if err != nil {
		return err
	}
	note := fmt.Sprintf("- %s: outputs satisfied\n", step.Name)
	if !satisfied {
		note = fmt.Sprintf("- %s: missing outputs: %s\n", step.Name, strings.Join(missing, ", "))
	}

	existing, err := os.ReadFile(handoffPath)
	if err != nil {
		return errs.IO("read "+handoffPath, err)
	}
	if err := fsatomic.WriteFileAtomic(handoffPath, append(existing, note...), 0o644); err != nil {
		return err
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
	header := fmt.Sprintf("# Loopr Handoff\n\nInitialized: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	if err := fsatomic.WriteFileAtomic(path, []byte(header), 0o644); err != nil {
		return "", err
	}
	return path, nil
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
