// Package statusblock extracts the delimited LOOPR_STATUS trailer an agent
// prints at the end of its captured output.
package statusblock

import (
	"os"
	"strings"

	"github.com/loopr-dev/loopr/internal/errs"
)

const (
	StartDelimiter = "---LOOPR_STATUS---"
	EndDelimiter   = "---END_LOOPR_STATUS---"
)

// Status is the parsed content of a status block. ITEM_KEY, ITEM_TYPE, and
// PHASE are part of the per-task prompt contract but are not surfaced here:
// the driver never needs them, only the agent does.
type Status struct {
	Status     string
	ExitSignal bool
	Summary    string
}

// ParseFromFile reads path and parses its last status block.
func ParseFromFile(path string) (Status, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, false, errs.IO("read "+path, err)
	}
	status, found := Parse(string(data))
	return status, found, nil
}

// Parse locates the last occurrence of StartDelimiter in log and parses the
// KEY: VALUE lines up to the next EndDelimiter (or end of text). found is
// true whenever a start delimiter was present, regardless of field content.
func Parse(log string) (Status, bool) {
	idx := strings.LastIndex(log, StartDelimiter)
	if idx < 0 {
		return Status{}, false
	}
	segment := log[idx+len(StartDelimiter):]
	if end := strings.Index(segment, EndDelimiter); end >= 0 {
		segment = segment[:end]
	}

	var status Status
	for _, line := range strings.Split(segment, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "STATUS":
			status.Status = strings.ToUpper(value)
		case "EXIT_SIGNAL":
			status.ExitSignal = parseBool(value)
		case "SUMMARY":
			status.Summary = value
		}
	}
	return status, true
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "y":
		return true
	default:
		return false
	}
}
