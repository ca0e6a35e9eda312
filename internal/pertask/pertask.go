// Package pertask implements per-task loop mode: a scheduler that drives
// one test or task to completion per iteration, enforcing a tests-before-
// implementation ordering and a property-based-test must-fail-first gate.
package pertask

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loopr-dev/loopr/internal/agent"
	"github.com/loopr-dev/loopr/internal/errs"
	"github.com/loopr-dev/loopr/internal/fsatomic"
	"github.com/loopr-dev/loopr/internal/loopconfig"
	"github.com/loopr-dev/loopr/internal/rootresolve"
	"github.com/loopr-dev/loopr/internal/statusblock"
	"github.com/loopr-dev/loopr/internal/steps"
	"github.com/loopr-dev/loopr/internal/workplan"
	"github.com/loopr-dev/loopr/internal/workstatus"
)

// Event status values reported through Options.Progress.
const (
	EventStart = "start"
	EventDone  = "done"
	EventExit  = "exit"
	EventError = "error"
)

var pbtMarkers = []string{
	"property-based", "property based", "pbt", "proptest",
	"quickcheck", "fast-check", "fastcheck",
}

// Options configures one call to Run.
type Options struct {
	LooprRoot     string
	MaxIterations int64
	CodexArgs     []string
	Progress      func(Event)
}

// Event reports progress for one selected item.
type Event struct {
	Iteration int64
	Key       string
	Status    string
	Details   string
}

// Report is Run's outcome.
type Report struct {
	Iterations  int64
	ExitReason  string
	LastSession *agent.Session
}

type statusPayload struct {
	State       string `json:"state"`
	Iteration   int64  `json:"iteration"`
	UpdatedAt   string `json:"updated_at"`
	ExitReason  string `json:"exit_reason,omitempty"`
	LastSummary string `json:"last_summary,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Run drives the per-task scheduler until an exit condition fires.
func Run(opts Options) (Report, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Report{}, errs.IO("get working directory", err)
	}
	root, repoID, err := rootresolve.Resolve(cwd, opts.LooprRoot)
	if err != nil {
		return Report{}, err
	}

	handoffPath, err := ensureHandoff(root)
	if err != nil {
		return Report{}, err
	}
	execStep, ok := steps.Find(steps.Default(), "execute")
	if !ok {
		return Report{}, errs.AgentFailure("execute step not found")
	}

	specsDir := filepath.Join(root, "specs")
	taskOrderPath := filepath.Join(specsDir, "task-order.yaml")
	testOrderPath := filepath.Join(specsDir, "test-order.yaml")
	stateDir := filepath.Join(root, "loopr", "state")
	workStatusPath := filepath.Join(stateDir, "work-status.json")
	statusJSONPath := filepath.Join(stateDir, "status.json")

	cfg, err := loopconfig.Load(filepath.Join(root, "loopr", "config"))
	if err != nil {
		return Report{}, err
	}
	if opts.MaxIterations > 0 {
		cfg.MaxIterations = opts.MaxIterations
	}

	taskOrder, err := workplan.LoadTaskOrder(taskOrderPath)
	if err != nil {
		return Report{}, err
	}
	testOrder, err := workplan.LoadTestOrder(testOrderPath)
	if err != nil {
		return Report{}, err
	}
	sort.Slice(taskOrder.Tasks, func(i, j int) bool { return taskOrder.Tasks[i].ID < taskOrder.Tasks[j].ID })
	sort.Slice(testOrder.Tests, func(i, j int) bool { return testOrder.Tests[i].ID < testOrder.Tests[j].ID })

	taskByID := make(map[int64]workplan.TaskSpec, len(taskOrder.Tasks))
	for _, task := range taskOrder.Tasks {
		taskByID[task.ID] = task
	}
	testByID := make(map[int64]workplan.TestSpec, len(testOrder.Tests))
	testsByTaskID := make(map[int64][]workplan.TestSpec, len(taskOrder.Tasks))
	for _, test := range testOrder.Tests {
		testByID[test.ID] = test
		testsByTaskID[test.TaskID] = append(testsByTaskID[test.TaskID], test)
	}
	for taskID := range testsByTaskID {
		group := testsByTaskID[taskID]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		testsByTaskID[taskID] = group
	}

	now := time.Now().UTC()
	workStatus, err := workstatus.Load(workStatusPath, now)
	if err != nil {
		return Report{}, err
	}
	for _, task := range taskOrder.Tasks {
		workstatus.EnsureItem(&workStatus, task.Key, workstatus.ItemTypeTask, now)
	}
	for _, test := range testOrder.Tests {
		workstatus.EnsureItem(&workStatus, test.Key, workstatus.ItemTypeTest, now)
	}

	for _, test := range testOrder.Tests {
		item := workStatus.Items[test.Key]
		item.PBT = determinePBT(root, test)
		if item.State == workstatus.StateComplete && !item.TestsWritten {
			item.TestsWritten = true
		}
		workStatus.Items[test.Key] = item
		workstatus.Touch(&workStatus, test.Key, now)
	}
	if err := workstatus.Write(workStatusPath, workStatus); err != nil {
		return Report{}, err
	}

	report := Report{}
	var iteration int64
	var missingStatusCount int64

	for {
		if cfg.MaxIterations > 0 && iteration >= cfg.MaxIterations {
			report.ExitReason = "max_iterations"
			if err := finish(statusJSONPath, &workStatus, workStatusPath, iteration, "complete", report.ExitReason, "", ""); err != nil {
				return report, err
			}
			break
		}

		if reason, ok := sweepBlockedOrError(workStatus); ok {
			report.ExitReason = reason
			if err := finish(statusJSONPath, &workStatus, workStatusPath, iteration, reason, reason, "", ""); err != nil {
				return report, err
			}
			break
		}

		if allDone(taskOrder, testOrder, workStatus) {
			report.ExitReason = "completed"
			if err := finish(statusJSONPath, &workStatus, workStatusPath, iteration, "complete", report.ExitReason, "", ""); err != nil {
				return report, err
			}
			break
		}

		key, itemType, ok := selectNext(workStatus, taskOrder.Tasks, testOrder.Tests, taskByID, testByID, testsByTaskID)
		if !ok {
			report.ExitReason = "blocked"
			if err := finish(statusJSONPath, &workStatus, workStatusPath, iteration, "blocked", report.ExitReason, "", "no runnable tasks/tests"); err != nil {
				return report, err
			}
			break
		}

		iteration++
		emit(opts.Progress, iteration, key, EventStart, "")

		item := workStatus.Items[key]
		item.State = workstatus.StateInProgress
		item.Attempts = saturatingIncrement(item.Attempts)
		workStatus.Items[key] = item
		workstatus.Touch(&workStatus, key, time.Now().UTC())
		if err := workstatus.Write(workStatusPath, workStatus); err != nil {
			return report, err
		}

		phase := "implement"
		var pbt bool
		var taskKey string
		if itemType == workstatus.ItemTypeTest {
			phase = "tests"
			test := testByID[findTestID(testOrder.Tests, key)]
			pbt = workStatus.Items[key].PBT
			if task, ok := taskByID[test.TaskID]; ok {
				taskKey = task.Key
			}
		}

		inputs := buildInputs(handoffPath, taskOrderPath, testOrderPath, key, itemType, taskKey, testOrder.Tests, taskOrder.Tasks, execStep.Outputs)
		promptStep := steps.Step{
			Name:          execStep.Name,
			Skill:         execStep.Skill,
			Inputs:        inputs,
			Outputs:       execStep.Outputs,
			AllowRepoRead: execStep.AllowRepoRead,
		}
		prompt := strings.Join(steps.BuildTaskPromptLines(promptStep, handoffPath, key, string(itemType), phase, pbt), "\n")

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
		report.LastSession = &run.Session

		runErr := codexError(run)
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

		if statusFound {
			missingStatusCount = 0
		} else {
			missingStatusCount++
		}
		if !statusFound && missingStatusCount >= cfg.MaxMissingStatus {
			item := workStatus.Items[key]
			item.State = workstatus.StateError
			item.LastError = "missing LOOPR_STATUS block"
			workStatus.Items[key] = item
			workstatus.Touch(&workStatus, key, time.Now().UTC())
			if err := workstatus.Write(workStatusPath, workStatus); err != nil {
				return report, err
			}
			report.ExitReason = "missing_status"
			if err := finish(statusJSONPath, &workStatus, workStatusPath, iteration, "error", report.ExitReason, "", item.LastError); err != nil {
				return report, err
			}
			emit(opts.Progress, iteration, key, EventExit, report.ExitReason)
			break
		}

		if status.Status == "BLOCKED" {
			item := workStatus.Items[key]
			item.State = workstatus.StateBlocked
			item.LastError = status.Summary
			workStatus.Items[key] = item
			workstatus.Touch(&workStatus, key, time.Now().UTC())
			if err := workstatus.Write(workStatusPath, workStatus); err != nil {
				return report, err
			}
			report.ExitReason = "blocked"
			if err := finish(statusJSONPath, &workStatus, workStatusPath, iteration, "blocked", report.ExitReason, status.Summary, ""); err != nil {
				return report, err
			}
			emit(opts.Progress, iteration, key, EventExit, report.ExitReason)
			break
		}
		if status.Status == "ERROR" {
			item := workStatus.Items[key]
			item.State = workstatus.StateError
			item.LastError = status.Summary
			workStatus.Items[key] = item
			workstatus.Touch(&workStatus, key, time.Now().UTC())
			if err := workstatus.Write(workStatusPath, workStatus); err != nil {
				return report, err
			}
			report.ExitReason = "error"
			if err := finish(statusJSONPath, &workStatus, workStatusPath, iteration, "error", report.ExitReason, status.Summary, ""); err != nil {
				return report, err
			}
			emit(opts.Progress, iteration, key, EventExit, report.ExitReason)
			break
		}

		testPhase := "validate"
		if itemType == workstatus.ItemTypeTest {
			testPhase = "tests"
		}
		passed, testExitCode, err := runTestCommand(root, cfg.TestCommand)
		if err != nil {
			return report, err
		}
		testResult := workstatus.TestRunResult{
			ExitCode: testExitCode,
			Passed:   passed,
			RanAt:    time.Now().UTC().Format(time.RFC3339),
			Phase:    testPhase,
		}

		summary := status.Summary
		if itemType == workstatus.ItemTypeTest {
			item := workStatus.Items[key]
			item.LastTest = &testResult
			if item.PBT && passed {
				item.State = workstatus.StateBlocked
				item.LastError = "PBT tests passed on first run; must fail first"
				workStatus.Items[key] = item
				workstatus.Touch(&workStatus, key, time.Now().UTC())
				if err := workstatus.Write(workStatusPath, workStatus); err != nil {
					return report, err
				}
				report.ExitReason = "pbt_passed_first"
				if err := finish(statusJSONPath, &workStatus, workStatusPath, iteration, "blocked", report.ExitReason, item.LastError, ""); err != nil {
					return report, err
				}
				emit(opts.Progress, iteration, key, EventExit, report.ExitReason)
				break
			}
			item.State = workstatus.StateComplete
			item.TestsWritten = true
			item.LastError = ""
			if summary == "" {
				summary = fmt.Sprintf("tests written for %s", key)
			}
			item.LastSummary = summary
			workStatus.Items[key] = item
			workstatus.Touch(&workStatus, key, time.Now().UTC())
		} else {
			item := workStatus.Items[key]
			item.LastTest = &testResult
			if !passed {
				item.State = workstatus.StateError
				item.LastError = "tests failed"
				workStatus.Items[key] = item
				workstatus.Touch(&workStatus, key, time.Now().UTC())
				if err := workstatus.Write(workStatusPath, workStatus); err != nil {
					return report, err
				}
				report.ExitReason = "tests_failed"
				if err := finish(statusJSONPath, &workStatus, workStatusPath, iteration, "error", report.ExitReason, "", item.LastError); err != nil {
					return report, err
				}
				emit(opts.Progress, iteration, key, EventExit, report.ExitReason)
				break
			}
			item.State = workstatus.StateComplete
			item.LastError = ""
			if summary == "" {
				summary = fmt.Sprintf("implemented %s", key)
			}
			item.LastSummary = summary
			workStatus.Items[key] = item
			workstatus.Touch(&workStatus, key, time.Now().UTC())

			taskSpec, ok := findTaskByKey(taskOrder.Tasks, key)
			if ok {
				for _, test := range testsByTaskID[taskSpec.ID] {
					testItem := workStatus.Items[test.Key]
					testItem.TestsValidated = true
					workStatus.Items[test.Key] = testItem
					workstatus.Touch(&workStatus, test.Key, time.Now().UTC())
				}
			}
		}

		if err := workstatus.Write(workStatusPath, workStatus); err != nil {
			return report, err
		}
		if err := writeStatusJSON(statusJSONPath, statusPayload{
			State:       "running",
			Iteration:   iteration,
			UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
			LastSummary: summary,
		}); err != nil {
			return report, err
		}
		emit(opts.Progress, iteration, key, EventDone, "")
	}

	report.Iterations = iteration
	return report, nil
}

func emit(progress func(Event), iteration int64, key, status, details string) {
	if progress == nil {
		return
	}
	progress(Event{Iteration: iteration, Key: key, Status: status, Details: details})
}

func saturatingIncrement(attempts uint32) uint32 {
	if attempts == ^uint32(0) {
		return attempts
	}
	return attempts + 1
}

func determinePBT(root string, test workplan.TestSpec) bool {
	if strings.EqualFold(test.Kind, "pbt") {
		return true
	}
	path := test.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	content := strings.ToLower(string(data))
	for _, marker := range pbtMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

func sweepBlockedOrError(f workstatus.File) (reason string, ok bool) {
	hasBlocked := false
	hasError := false
	for _, item := range f.Items {
		switch item.State {
		case workstatus.StateBlocked:
			hasBlocked = true
		case workstatus.StateError:
			hasError = true
		}
	}
	if hasBlocked {
		return "blocked", true
	}
	if hasError {
		return "error", true
	}
	return "", false
}

func allDone(taskOrder workplan.TaskOrder, testOrder workplan.TestOrder, f workstatus.File) bool {
	for _, task := range taskOrder.Tasks {
		if f.Items[task.Key].State != workstatus.StateComplete {
			return false
		}
	}
	for _, test := range testOrder.Tests {
		if !f.Items[test.Key].TestsValidated {
			return false
		}
	}
	return true
}

func selectNext(
	f workstatus.File,
	tasks []workplan.TaskSpec,
	tests []workplan.TestSpec,
	taskByID map[int64]workplan.TaskSpec,
	testByID map[int64]workplan.TestSpec,
	testsByTaskID map[int64][]workplan.TestSpec,
) (key string, itemType workstatus.ItemType, ok bool) {
	for _, test := range tests {
		item, exists := f.Items[test.Key]
		if !exists || item.State != workstatus.StateNotStarted {
			continue
		}
		task, exists := taskByID[test.TaskID]
		if !exists || !taskDepsComplete(task, f, taskByID) {
			continue
		}
		if !testDepsSatisfied(test, f, testByID) {
			continue
		}
		return test.Key, workstatus.ItemTypeTest, true
	}

	for _, task := range tasks {
		item, exists := f.Items[task.Key]
		if !exists || item.State != workstatus.StateNotStarted {
			continue
		}
		if !taskDepsComplete(task, f, taskByID) {
			continue
		}
		runnable := true
		for _, test := range testsByTaskID[task.ID] {
			testItem := f.Items[test.Key]
			if !testItem.TestsWritten || testItem.State == workstatus.StateBlocked || testItem.State == workstatus.StateError {
				runnable = false
				break
			}
			if !testDepsSatisfied(test, f, testByID) {
				runnable = false
				break
			}
		}
		if !runnable {
			continue
		}
		return task.Key, workstatus.ItemTypeTask, true
	}

	return "", "", false
}

func taskDepsComplete(task workplan.TaskSpec, f workstatus.File, taskByID map[int64]workplan.TaskSpec) bool {
	for _, depID := range task.DependsOn {
		dep, exists := taskByID[depID]
		if !exists || f.Items[dep.Key].State != workstatus.StateComplete {
			return false
		}
	}
	return true
}

func testDepsSatisfied(test workplan.TestSpec, f workstatus.File, testByID map[int64]workplan.TestSpec) bool {
	for _, depID := range test.DependsOn {
		dep, exists := testByID[depID]
		if !exists {
			return false
		}
		item := f.Items[dep.Key]
		if !item.TestsWritten || item.State != workstatus.StateComplete {
			return false
		}
	}
	return true
}

func findTestID(tests []workplan.TestSpec, key string) int64 {
	for _, test := range tests {
		if test.Key == key {
			return test.ID
		}
	}
	return 0
}

func findTaskByKey(tasks []workplan.TaskSpec, key string) (workplan.TaskSpec, bool) {
	for _, task := range tasks {
		if task.Key == key {
			return task, true
		}
	}
	return workplan.TaskSpec{}, false
}

// buildInputs assembles the per-task prompt's input list: handoff,
// task-order, test-order, the selected item's owning task spec file, its
// test spec files, and the execute step's declared outputs, deduplicated
// in first-occurrence order.
func buildInputs(
	handoffPath, taskOrderPath, testOrderPath, key string,
	itemType workstatus.ItemType,
	taskKey string,
	tests []workplan.TestSpec,
	tasks []workplan.TaskSpec,
	outputs []string,
) []string {
	ordered := []string{handoffPath, taskOrderPath, testOrderPath}

	var task workplan.TaskSpec
	var taskFound bool
	if itemType == workstatus.ItemTypeTask {
		task, taskFound = findTaskByKey(tasks, key)
	} else if taskKey != "" {
		task, taskFound = findTaskByKey(tasks, taskKey)
	}
	if taskFound {
		ordered = append(ordered, task.File)
		for _, test := range tests {
			if test.TaskID == task.ID {
				ordered = append(ordered, test.File)
			}
		}
	}
	ordered = append(ordered, outputs...)

	seen := make(map[string]bool, len(ordered))
	out := make([]string, 0, len(ordered))
	for _, v := range ordered {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func runTestCommand(root, command string) (passed bool, exitCode int, err error) {
	cmd := exec.Command("sh", "-lc", command)
	cmd.Dir = root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	runErr := cmd.Run()
	if runErr == nil {
		return true, 0, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return false, exitErr.ExitCode(), nil
	}
	return false, 1, errs.IO("run test command", runErr)
}

func finish(statusPath string, f *workstatus.File, workStatusPath string, iteration int64, state, exitReason, lastSummary, lastError string) error {
	if err := writeStatusJSON(statusPath, statusPayload{
		State:       state,
		Iteration:   iteration,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
		ExitReason:  exitReason,
		LastSummary: lastSummary,
		LastError:   lastError,
	}); err != nil {
		return err
	}
	return workstatus.Write(workStatusPath, *f)
}

func writeStatusJSON(path string, payload statusPayload) error {
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
