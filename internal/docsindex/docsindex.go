// Package docsindex builds loopr/state/docs-index.txt, a tab-separated
// summary of the documentation and spec files an agent may want to read.
package docsindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/loopr-dev/loopr/internal/errs"
	"github.com/loopr-dev/loopr/internal/fsatomic"
)

const maxSummarizedSize = 256 * 1024
const summaryLimit = 120

// Write regenerates loopr/state/docs-index.txt under root and returns its
// path.
func Write(root string) (string, error) {
	stateDir := filepath.Join(root, "loopr", "state")
	if err := fsatomic.EnsureDir(stateDir, 0o755); err != nil {
		return "", err
	}
	indexPath := filepath.Join(stateDir, "docs-index.txt")

	entries, err := collectEntries(root)
	if err != nil {
		return "", err
	}

	var body strings.Builder
	for _, entry := range entries {
		body.WriteString(entry)
		body.WriteByte('\n')
	}
	if err := fsatomic.WriteFileAtomic(indexPath, []byte(body.String()), 0o644); err != nil {
		return "", err
	}
	return indexPath, nil
}

// collectEntries gathers README.md, AGENTS.md, loopr/config, every
// docs/**/*.md file, and every specs/**/*.md or specs/**/*-order.yaml file,
// each rendered as "path\tsize\tsummary".
func collectEntries(root string) ([]string, error) {
	var rels []string

	for _, rel := range []string{"README.md", "AGENTS.md", filepath.Join("loopr", "config")} {
		if info, err := os.Stat(filepath.Join(root, rel)); err == nil && !info.IsDir() {
			rels = append(rels, filepath.ToSlash(rel))
		}
	}

	docsMatches, err := globRelative(root, "docs/**/*.md")
	if err != nil {
		return nil, err
	}
	rels = append(rels, docsMatches...)

	specMdMatches, err := globRelative(root, "specs/**/*.md")
	if err != nil {
		return nil, err
	}
	rels = append(rels, specMdMatches...)

	specOrderMatches, err := globRelative(root, "specs/**/*-order.yaml")
	if err != nil {
		return nil, err
	}
	rels = append(rels, specOrderMatches...)

	rels = dedupeSorted(rels)

	entries := make([]string, 0, len(rels))
	for _, rel := range rels {
		size, summary, err := summarizeFile(root, rel)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fmt.Sprintf("%s\t%d\t%s", rel, size, summary))
	}
	return entries, nil
}

func globRelative(root, pattern string) ([]string, error) {
	full := filepath.Join(root, filepath.FromSlash(pattern))
	matches, err := doublestar.FilepathGlob(full)
	if err != nil {
		return nil, errs.IO("glob "+full, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		info, statErr := os.Stat(m)
		if statErr != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(root, m)
		if err != nil {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

func dedupeSorted(values []string) []string {
	sort.Strings(values)
	out := values[:0]
	var prev string
	for i, v := range values {
		if i > 0 && v == prev {
			continue
		}
		out = append(out, v)
		prev = v
	}
	return out
}

func summarizeFile(root, rel string) (int64, string, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		return 0, "", errs.IO("stat "+path, err)
	}
	size := info.Size()
	if size > maxSummarizedSize {
		return size, "skipped (too large)", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return size, "unreadable", nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if heading != "" {
				return size, truncateSummary(heading), nil
			}
			continue
		}
		return size, truncateSummary(trimmed), nil
	}
	return size, "empty", nil
}

func truncateSummary(value string) string {
	if len(value) <= summaryLimit {
		return value
	}
	return value[:summaryLimit] + "..."
}
