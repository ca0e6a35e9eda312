// Package steps holds the static workflow step list and the logic to plan
// and render prompts for a run of one, several, or all of them.
package steps

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/loopr-dev/loopr/internal/errs"
	"github.com/loopr-dev/loopr/internal/statusblock"
)

// Step describes one stage of the prd -> spec -> features -> tasks -> tests
// -> execute pipeline.
type Step struct {
	Name          string
	Skill         string
	Inputs        []string
	Outputs       []string
	RequiresSeed  bool
	AlwaysRun     bool
	AllowRepoRead bool
}

// Default returns the canonical, ordered step list.
func Default() []Step {
	return []Step{
		{
			Name:          "prd",
			Skill:         "loopr-prd",
			Inputs:        []string{"loopr/state/handoff.md"},
			Outputs:       []string{"specs/prd.md"},
			RequiresSeed:  true,
		},
		{
			Name:   "spec",
			Skill:  "loopr-specify",
			Inputs: []string{"loopr/state/handoff.md", "specs/prd.md"},
			Outputs: []string{"specs/spec.md"},
		},
		{
			Name:   "features",
			Skill:  "loopr-features",
			Inputs: []string{"loopr/state/handoff.md", "specs/spec.md"},
			Outputs: []string{
				"specs/feature-order.yaml",
				"specs/feature-*.md",
			},
		},
		{
			Name:  "tasks",
			Skill: "loopr-tasks",
			Inputs: []string{
				"loopr/state/handoff.md",
				"specs/feature-order.yaml",
				"specs/feature-*.md",
			},
			Outputs: []string{
				"specs/task-order.yaml",
				"specs/feature-*-task-*.md",
			},
		},
		{
			Name:  "tests",
			Skill: "loopr-tests",
			Inputs: []string{
				"loopr/state/handoff.md",
				"specs/task-order.yaml",
				"specs/feature-*-task-*.md",
			},
			Outputs: []string{
				"specs/test-order.yaml",
				"specs/feature-*-task-*-test-*.md",
			},
		},
		{
			Name:  "execute",
			Skill: "loopr-execute",
			Inputs: []string{
				"loopr/state/handoff.md",
				"specs/task-order.yaml",
				"specs/test-order.yaml",
				"specs/feature-*-task-*.md",
				"specs/feature-*-task-*-test-*.md",
			},
			Outputs:       []string{"specs/implementation-progress.md"},
			AlwaysRun:     true,
			AllowRepoRead: true,
		},
	}
}

// Find returns the step named name, if any.
func Find(steps []Step, name string) (Step, bool) {
	idx := indexOf(steps, name)
	if idx < 0 {
		return Step{}, false
	}
	return steps[idx], true
}

func indexOf(steps []Step, name string) int {
	for i, s := range steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// SelectSingle returns a one-element plan for the named step.
func SelectSingle(steps []Step, name string) ([]Step, error) {
	step, ok := Find(steps, name)
	if !ok {
		return nil, errs.Usage("unknown step: %s", name)
	}
	return []Step{step}, nil
}

// SelectRange returns the contiguous sub-slice of steps running from "from"
// to "to" inclusive. Either bound may be empty, meaning "start"/"end".
func SelectRange(steps []Step, from, to string) ([]Step, error) {
	start := 0
	end := len(steps) - 1
	if from != "" {
		idx := indexOf(steps, from)
		if idx < 0 {
			return nil, errs.Usage("unknown step: %s", from)
		}
		start = idx
	}
	if to != "" {
		idx := indexOf(steps, to)
		if idx < 0 {
			return nil, errs.Usage("unknown step: %s", to)
		}
		end = idx
	}
	if start > end {
		return nil, errs.Usage("invalid step range: %s to %s", from, to)
	}
	out := make([]Step, end-start+1)
	copy(out, steps[start:end+1])
	return out, nil
}

// Plan resolves a run's step list from the raw --step/--from/--to flags.
// A non-empty step takes priority over from/to; empty from and to select
// the entire pipeline.
func Plan(step, from, to string) ([]Step, error) {
	all := Default()
	if step != "" {
		return SelectSingle(all, step)
	}
	if from != "" || to != "" {
		return SelectRange(all, from, to)
	}
	return all, nil
}

// BuildPrompt renders the full prompt text for running step once, outside a
// loop iteration: a header line, the shared prompt body, and a trailer
// naming the skill to run.
func BuildPrompt(step Step, seed, handoffPath string) string {
	lines := []string{fmt.Sprintf("Loopr step: %s", step.Name)}
	lines = append(lines, BuildPromptLines(step, seed, handoffPath)...)
	lines = append(lines, "", fmt.Sprintf("Run the prompt: %s", step.Skill))
	return strings.Join(lines, "\n")
}

// BuildPromptLines renders the shared body used by both plain step prompts
// and loop-iteration prompts: allowed inputs, required outputs, an optional
// seed block, and the rules footer.
func BuildPromptLines(step Step, seed, handoffPath string) []string {
	lines := []string{
		fmt.Sprintf("Prompt: %s", step.Skill),
		"",
		"Allowed inputs:",
	}

	seen := make(map[string]bool, len(step.Inputs))
	for _, input := range step.Inputs {
		if seen[input] {
			continue
		}
		seen[input] = true
		lines = append(lines, "- "+input)
	}
	if step.AllowRepoRead {
		lines = append(lines, "- Repo files as needed (read-only).")
	}

	lines = append(lines, "", "Required outputs:")
	for _, output := range step.Outputs {
		lines = append(lines, "- "+output)
	}

	if step.RequiresSeed {
		lines = append(lines, "", "Seed prompt:", seed)
	}

	lines = append(lines, "", "Rules:")
	if step.AllowRepoRead {
		lines = append(lines,
			"- Read the allowed inputs and any repo files needed for implementation.",
			"- Avoid broad scans; open only what you need.",
		)
	} else {
		lines = append(lines,
			"- Read only the allowed inputs.",
			"- Do not scan the repo.",
		)
	}
	lines = append(lines,
		"- If required inputs are missing, stop and ask to run the appropriate step.",
		fmt.Sprintf("- Append a completion note to %s (decisions, open questions, tests).", handoffPath),
	)

	return lines
}

// OutputsSatisfied reports whether every pattern in step.Outputs matches at
// least one file under root, using glob semantics (patterns may be literal
// paths or contain doublestar wildcards like "specs/feature-*.md"). It
// returns the subset of patterns that matched nothing.
func OutputsSatisfied(root string, step Step) (bool, []string, error) {
	var missing []string
	for _, pattern := range step.Outputs {
		full := filepath.Join(root, filepath.FromSlash(pattern))
		matches, err := doublestar.FilepathGlob(full)
		if err != nil {
			return false, nil, errs.IO("glob "+full, err)
		}
		if len(matches) == 0 {
			missing = append(missing, pattern)
		}
	}
	return len(missing) == 0, missing, nil
}

// BuildTaskPromptLines extends BuildPromptLines with the per-task fields
// driven by per-task loop mode: the item's key, type, phase, (for a test in
// the "tests" phase) property-based-test handling rules, and the required
// status block template including ITEM_KEY, ITEM_TYPE, and PHASE.
func BuildTaskPromptLines(step Step, handoffPath, itemKey, itemType, phase string, pbt bool) []string {
	lines := BuildPromptLines(step, "", handoffPath)
	lines = append(lines,
		"",
		fmt.Sprintf("Item key: %s", itemKey),
		fmt.Sprintf("Item type: %s", itemType),
		fmt.Sprintf("Phase: %s", phase),
	)
	if phase == "tests" {
		lines = append(lines, "- Write tests only; do not implement production code beyond minimal scaffolding.")
		if pbt {
			lines = append(lines, "- This is a property-based test: it must fail on its first run to prove it exercises real behavior.")
		}
	}
	lines = append(lines,
		"- Always include the status block at the end of your response.",
		"",
		"Status block format (required):",
		statusblock.StartDelimiter,
		"STATUS: IN_PROGRESS | COMPLETE | BLOCKED | ERROR",
		"EXIT_SIGNAL: true | false",
		"SUMMARY: <short summary>",
		fmt.Sprintf("ITEM_KEY: %s", itemKey),
		fmt.Sprintf("ITEM_TYPE: %s", itemType),
		fmt.Sprintf("PHASE: %s", phase),
		statusblock.EndDelimiter,
	)
	return lines
}
