package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/loopr-dev/loopr/internal/cliargs"
	"github.com/loopr-dev/loopr/internal/docsindex"
	"github.com/loopr-dev/loopr/internal/errs"
	"github.com/loopr-dev/loopr/internal/looprun"
	"github.com/loopr-dev/loopr/internal/pertask"
	"github.com/loopr-dev/loopr/internal/repoinit"
	"github.com/loopr-dev/loopr/internal/rootresolve"
	"github.com/loopr-dev/loopr/internal/ux"
	"github.com/loopr-dev/loopr/internal/version"
	"github.com/loopr-dev/loopr/internal/workflow"
	cli "github.com/urfave/cli/v3"
)

func main() {
	args := os.Args[1:]

	// "run" and "loop" accept a "--" separated block of agent pass-through
	// flags; surgery happens before urfave/cli ever sees the args so that
	// `loopr run --codex --help` reroutes --help to the agent instead of
	// being swallowed by loopr's own flag parser.
	var codexArgs []string
	if len(args) > 0 && (args[0] == "run" || args[0] == "loop") {
		rest := args[1:]
		looprArgs, agentArgs := cliargs.SplitOnDoubleDash(rest)
		looprArgs, agentArgs = cliargs.ExtractCodexPassthroughFlags(looprArgs, agentArgs)
		codexArgs = agentArgs
		args = append([]string{args[0]}, looprArgs...)
	}

	app := &cli.Command{
		Name:  "loopr",
		Usage: "Orchestrate the Loopr workflow and execute loop",
		Commands: []*cli.Command{
			initCmd(),
			runCmd(&codexArgs),
			loopCmd(&codexArgs),
			indexCmd(),
			versionCmd(),
		},
	}

	err := app.Run(context.Background(), append([]string{"loopr"}, args...))
	code := errs.ExitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ux.Red, ux.Reset, err)
	}
	os.Exit(code)
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize Loopr metadata in a repo",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: ".", Usage: "Repo root to initialize"},
			&cli.BoolFlag{Name: "no-agents", Usage: "Skip creating AGENTS.md during init"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root := strings.TrimSpace(cmd.String("root"))
			if root == "" {
				root = "."
			}
			report, err := repoinit.Init(repoinit.Options{
				Root:     root,
				NoAgents: cmd.Bool("no-agents"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Repo root:   %s\n", report.Root)
			fmt.Printf("Repo ID:     %s\n", report.RepoID)
			fmt.Printf("Transcripts: %s\n", report.TranscriptsDir)
			return nil
		},
	}
}

func runCmd(codexArgs *[]string) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Orchestrate Loopr steps (requires --codex or --dry-run)",
		UsageText: "loopr run --codex --seed-prompt @seed.txt\n   loopr run --codex --from spec --to tests\n   loopr run --dry-run\n   loopr run --codex -- --model <model name>",
		Description: "Orchestrate the Loopr workflow steps (prd -> spec -> features -> tasks -> tests -> execute). " +
			"Requires --codex or --dry-run. Use --from/--to to run a contiguous range, or --step for a single step. " +
			"When --codex is set, the prompt and handoff rules are enforced; when --dry-run is set, no agent session is started.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "Start at this step (prd, spec, features, tasks, tests, execute)"},
			&cli.StringFlag{Name: "to", Usage: "End at this step (inclusive)"},
			&cli.StringFlag{Name: "step", Usage: "Run only this step (overrides --from/--to)"},
			&cli.StringFlag{Name: "seed-prompt", Usage: "Seed prompt text or @path to read from a file"},
			&cli.BoolFlag{Name: "confirm", Usage: "Ask for confirmation before each step"},
			&cli.BoolFlag{Name: "no-prompt", Usage: "Open the agent without a Loopr prompt (interactive mode)"},
			&cli.BoolFlag{Name: "codex", Usage: "Run with the agent (required unless --dry-run)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Print planned steps without running the agent"},
			&cli.StringFlag{Name: "loopr-root", Usage: "Override Loopr root (defaults to nearest loopr/repo-id)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			codex := cmd.Bool("codex")
			dryRun := cmd.Bool("dry-run")
			if codex && dryRun {
				return errs.Usage("--codex and --dry-run are mutually exclusive")
			}

			seedPrompt := cmd.String("seed-prompt")
			confirm := cmd.Bool("confirm")
			noPrompt := cmd.Bool("no-prompt")
			agentArgs := *codexArgs

			if dryRun {
				codex = false
				agentArgs = nil
				seedPrompt = ""
				confirm = false
				noPrompt = false
			}

			if len(agentArgs) != 0 && !codex && !dryRun {
				return errs.Usage("agent args provided but --codex not set")
			}
			if !codex && !dryRun {
				return errs.Usage("run requires --codex or --dry-run")
			}
			if codex && !noPrompt {
				resolved, err := workflow.ResolveSeed(seedPrompt)
				if err != nil {
					return err
				}
				seedPrompt = resolved
			}

			var progress func(workflow.ProgressEvent)
			if codex {
				progress = ux.WorkflowProgress
			}

			report, err := workflow.Run(workflow.RunOptions{
				LooprRoot: strings.TrimSpace(cmd.String("loopr-root")),
				From:      cmd.String("from"),
				To:        cmd.String("to"),
				Step:      cmd.String("step"),
				Seed:      seedPrompt,
				Confirm:   confirm,
				NoPrompt:  noPrompt,
				Codex:     codex,
				CodexArgs: agentArgs,
				Progress:  progress,
			})
			if err != nil {
				return err
			}

			if !codex {
				ux.PlanList(report.Steps)
				return nil
			}

			if report.LastSession != nil {
				fmt.Printf("Transcript: %s\n", report.LastSession.LogPath)
				fmt.Printf("Metadata:   %s\n", report.LastSession.MetaPath)
			}
			return nil
		},
	}
}

func loopCmd(codexArgs *[]string) *cli.Command {
	return &cli.Command{
		Name:  "loop",
		Usage: "Run the Loopr execute loop with safety gates",
		Description: "Run repeated Loopr execute iterations with safety gates (exit signals, missing-status " +
			"limits, and optional per-task mode). Default mode runs a single execute prompt per iteration. " +
			"Use --per-task to run one agent session per test/task item with tests-first enforcement.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "loopr-root", Usage: "Override Loopr root (defaults to nearest loopr/repo-id)"},
			&cli.IntFlag{Name: "max-iterations", Value: 0, Usage: "Stop after N iterations (0 = no limit)"},
			&cli.BoolFlag{Name: "per-task", Usage: "Run one agent session per test/task item"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root := strings.TrimSpace(cmd.String("loopr-root"))
			maxIterations := cmd.Int("max-iterations")

			if cmd.Bool("per-task") {
				report, err := pertask.Run(pertask.Options{
					LooprRoot:     root,
					MaxIterations: maxIterations,
					CodexArgs:     *codexArgs,
					Progress:      ux.PerTaskIteration,
				})
				if err != nil {
					return err
				}
				if report.ExitReason != "" {
					fmt.Printf("Exit reason: %s\n", report.ExitReason)
				}
				if report.LastSession != nil {
					fmt.Printf("Transcript: %s\n", report.LastSession.LogPath)
					fmt.Printf("Metadata:   %s\n", report.LastSession.MetaPath)
				}
				return nil
			}

			report, err := looprun.Run(looprun.LoopOptions{
				LooprRoot:     root,
				MaxIterations: maxIterations,
				CodexArgs:     *codexArgs,
				Progress:      ux.LoopIteration,
			})
			if err != nil {
				return err
			}
			if report.ExitReason != "" {
				fmt.Printf("Exit reason: %s\n", report.ExitReason)
			}
			if report.LastSession != nil {
				fmt.Printf("Transcript: %s\n", report.LastSession.LogPath)
				fmt.Printf("Metadata:   %s\n", report.LastSession.MetaPath)
			}
			return nil
		},
	}
}

func indexCmd() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Refresh the Loopr docs index (loopr/state/docs-index.txt)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "loopr-root", Usage: "Override Loopr root (defaults to nearest loopr/repo-id)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cwd, err := os.Getwd()
			if err != nil {
				return errs.IO("get working directory", err)
			}
			root, _, err := rootresolve.Resolve(cwd, strings.TrimSpace(cmd.String("loopr-root")))
			if err != nil {
				return err
			}
			indexPath, err := docsindex.Write(root)
			if err != nil {
				return err
			}
			fmt.Printf("Docs index: %s\n", indexPath)
			return nil
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version info",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("loopr %s\n", version.Version)
			if version.Commit != "" {
				fmt.Printf("commit: %s\n", version.Commit)
			}
			if version.Date != "" {
				fmt.Printf("date: %s\n", version.Date)
			}
			return nil
		},
	}
}
