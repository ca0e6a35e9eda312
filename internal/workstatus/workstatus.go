// Package workstatus is the transactional per-item state store used by
// per-task mode: loopr/state/work-status.json.
package workstatus

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/loopr-dev/loopr/internal/errs"
	"github.com/loopr-dev/loopr/internal/fsatomic"
)

type ItemType string

const (
	ItemTypeTask ItemType = "task"
	ItemTypeTest ItemType = "test"
)

type ItemState string

const (
	StateNotStarted ItemState = "not_started"
	StateInProgress ItemState = "in_progress"
	StateBlocked    ItemState = "blocked"
	StateError      ItemState = "error"
	StateComplete   ItemState = "complete"
)

// TestRunResult records the outcome of invoking the configured test command.
type TestRunResult struct {
	ExitCode int    `json:"exit_code"`
	Passed   bool   `json:"passed"`
	RanAt    string `json:"ran_at"`
	Phase    string `json:"phase"` // "tests" or "validate"
}

// Item is one task's or test's persistent record, keyed by its string key
// in File.Items.
type Item struct {
	Key            string         `json:"key"`
	ItemType       ItemType       `json:"item_type"`
	State          ItemState      `json:"state"`
	Attempts       uint32         `json:"attempts"`
	LastUpdated    string         `json:"last_updated"`
	LastSummary    string         `json:"last_summary,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	PBT            bool           `json:"pbt"`
	TestsWritten   bool           `json:"tests_written"`
	TestsValidated bool           `json:"tests_validated"`
	LastTest       *TestRunResult `json:"last_test,omitempty"`
}

// File is the full on-disk document.
type File struct {
	Version   int             `json:"version"`
	UpdatedAt string          `json:"updated_at"`
	Items     map[string]Item `json:"items"`
}

// Load reads path. A missing file yields an empty v1 document stamped with
// now; malformed JSON is an error.
func Load(path string, now time.Time) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{Version: 1, UpdatedAt: now.UTC().Format(time.RFC3339), Items: map[string]Item{}}, nil
		}
		return File{}, errs.IO("read "+path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, errs.Parse("parse "+path, err)
	}
	if f.Items == nil {
		f.Items = map[string]Item{}
	}
	return f, nil
}

// Write persists f to path via an atomic write-and-rename, pretty-printed
// with a trailing newline.
func Write(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errs.IO("serialize "+path, err)
	}
	data = append(data, '\n')
	if err := fsatomic.WriteFileAtomic(path, data, 0o644); err != nil {
		return errs.IO("write "+path, err)
	}
	return nil
}

// EnsureItem inserts a default not_started record for key if absent.
func EnsureItem(f *File, key string, itemType ItemType, now time.Time) {
	if _, ok := f.Items[key]; ok {
		return
	}
	f.Items[key] = Item{
		Key:         key,
		ItemType:    itemType,
		State:       StateNotStarted,
		LastUpdated: now.UTC().Format(time.RFC3339),
	}
}

// Touch stamps an item's last_updated and the file's updated_at with now.
// Call it on every mutation of an item, right before Write.
func Touch(f *File, key string, now time.Time) {
	stamp := now.UTC().Format(time.RFC3339)
	item := f.Items[key]
	item.LastUpdated = stamp
	f.Items[key] = item
	f.UpdatedAt = stamp
}
