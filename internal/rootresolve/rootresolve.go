// Package rootresolve locates the loopr metadata root: the nearest ancestor
// directory containing a loopr/repo-id file, or an explicit override.
package rootresolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loopr-dev/loopr/internal/errs"
)

// Find walks upward from start looking for <dir>/loopr/repo-id. It returns
// the directory that contains loopr/repo-id and the trimmed repo id.
func Find(start string) (root string, repoID string, err error) {
	current := start
	for {
		repoIDPath := filepath.Join(current, "loopr", "repo-id")
		data, readErr := os.ReadFile(repoIDPath)
		if readErr == nil {
			id := strings.TrimSpace(string(data))
			if id == "" {
				return "", "", errs.IO(fmt.Sprintf("repo-id is empty at %s", repoIDPath), nil)
			}
			return current, id, nil
		}
		if !errors.Is(readErr, os.ErrNotExist) {
			return "", "", errs.IO(fmt.Sprintf("read %s", repoIDPath), readErr)
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return "", "", errs.NotInitialized("unable to locate loopr/repo-id (run loopr init)")
}

// Resolve dispatches to an override-rooted load when override is non-empty,
// otherwise walks upward from start via Find.
func Resolve(start string, override string) (root string, repoID string, err error) {
	if override != "" {
		return loadRepoID(override)
	}
	return Find(start)
}

// loadRepoID loads a repo id from a known root without walking upward,
// failing distinctly if loopr/repo-id is missing there.
func loadRepoID(root string) (string, string, error) {
	absRoot := root
	if !filepath.IsAbs(absRoot) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", "", errs.IO("get working directory", err)
		}
		absRoot = filepath.Join(cwd, root)
	}

	repoIDPath := filepath.Join(absRoot, "loopr", "repo-id")
	data, err := os.ReadFile(repoIDPath)
	if err != nil {
		return "", "", errs.NotInitialized(fmt.Sprintf(
			"unable to locate loopr/repo-id under %s (run loopr init)", absRoot))
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", "", errs.IO(fmt.Sprintf("repo-id is empty at %s", repoIDPath), nil)
	}
	return absRoot, id, nil
}
