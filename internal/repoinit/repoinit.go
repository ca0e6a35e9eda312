// Package repoinit implements the idempotent "init" operation: minting a
// repo id, laying out loopr's state directories, and seeding a .gitignore.
package repoinit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loopr-dev/loopr/internal/errs"
	"github.com/loopr-dev/loopr/internal/fsatomic"
	"github.com/loopr-dev/loopr/internal/nanoid"
)

// Options configures one call to Init.
type Options struct {
	Root     string // defaults to the current directory when empty
	Rand     nanoid.RandomSource
	NoAgents bool // skip writing the AGENTS.md starter file
}

// Report is Init's outcome.
type Report struct {
	Root            string
	RepoID          string
	RepoIDCreated   bool
	TranscriptsDir  string
	AgentsFileAdded bool
}

const agentsStarter = `# Agents

This repository is driven by loopr. Read loopr/state/handoff.md before
making changes, and append a completion note there when you finish a step.
`

// Init ensures loopr/ exists under root with a repo id, a .gitignore, and a
// transcripts directory for that id. Calling Init on an already-initialized
// root is a no-op for the existing repo id.
func Init(opts Options) (Report, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot := root
	if !filepath.IsAbs(absRoot) {
		cwd, err := os.Getwd()
		if err != nil {
			return Report{}, errs.IO("get working directory", err)
		}
		absRoot = filepath.Join(cwd, root)
	}

	loopDir := filepath.Join(absRoot, "loopr")
	loopStateDir := filepath.Join(loopDir, "state")
	repoIDPath := filepath.Join(loopDir, "repo-id")

	report := Report{Root: absRoot}

	existingID, err := readRepoID(repoIDPath)
	if err != nil {
		return Report{}, err
	}
	if err := fsatomic.EnsureDir(loopDir, 0o755); err != nil {
		return Report{}, err
	}
	if err := ensureGitignore(loopDir); err != nil {
		return Report{}, err
	}
	if err := fsatomic.EnsureDir(loopStateDir, 0o755); err != nil {
		return Report{}, err
	}

	repoID := existingID
	if repoID == "" {
		src := opts.Rand
		if src == nil {
			src = nanoid.OSRandom{}
		}
		value, err := nanoid.Generate(src, nanoid.RepoIDLength)
		if err != nil {
			return Report{}, err
		}
		if err := fsatomic.WriteFileAtomic(repoIDPath, []byte(value+"\n"), 0o644); err != nil {
			return Report{}, err
		}
		report.RepoIDCreated = true
		repoID = value
	}

	transcriptsDir := filepath.Join(loopStateDir, "transcripts", repoID)
	if err := fsatomic.EnsureDir(transcriptsDir, 0o755); err != nil {
		return Report{}, err
	}

	if !opts.NoAgents {
		added, err := ensureAgentsFile(absRoot)
		if err != nil {
			return Report{}, err
		}
		report.AgentsFileAdded = added
	}

	report.RepoID = repoID
	report.TranscriptsDir = transcriptsDir
	return report, nil
}

func ensureGitignore(loopDir string) error {
	path := filepath.Join(loopDir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	body := strings.Join([]string{"# Loopr runtime state is local-only.", "state/", ""}, "\n")
	if err := fsatomic.WriteFileAtomic(path, []byte(body), 0o644); err != nil {
		return err
	}
	return nil
}

// ensureAgentsFile writes a starter AGENTS.md at root if one does not
// already exist. This is an extension over the pre-existing initializer:
// the CLI already wires --no-agents through, so giving first-time repos a
// seeded starter file is a direct, low-risk use of that flag.
func ensureAgentsFile(root string) (bool, error) {
	path := filepath.Join(root, "AGENTS.md")
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := fsatomic.WriteFileAtomic(path, []byte(agentsStarter), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func readRepoID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errs.IO("read "+path, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", errs.IO(fmt.Sprintf("repo-id is empty at %s", path), nil)
	}
	return trimmed, nil
}
