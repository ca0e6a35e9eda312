package ux

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/loopr-dev/loopr/internal/workstatus"
)

// RenderStatus prints the work-status and last loop-status display for a
// loopr root: per-item states grouped by type, plus the most recent loop
// iteration summary.
func RenderStatus(root string) {
	stateDir := filepath.Join(root, "loopr", "state")

	fmt.Printf("%sRoot:%s     %s\n", Bold, Reset, root)

	statusPath := filepath.Join(stateDir, "status.json")
	if data, err := os.ReadFile(statusPath); err == nil {
		var payload struct {
			State       string `json:"state"`
			Iteration   int64  `json:"iteration"`
			ExitReason  string `json:"exit_reason"`
			LastSummary string `json:"last_summary"`
			LastError   string `json:"last_error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			fmt.Printf("%sLoop:%s     iteration %d, state %s", Bold, Reset, payload.Iteration, payload.State)
			if payload.ExitReason != "" {
				fmt.Printf(" (%s)", payload.ExitReason)
			}
			fmt.Println()
			if payload.LastSummary != "" {
				fmt.Printf("  %s\n", payload.LastSummary)
			}
			if payload.LastError != "" {
				fmt.Printf("  %serror: %s%s\n", Red, payload.LastError, Reset)
			}
		}
	} else {
		fmt.Printf("%sLoop:%s     no runs recorded yet\n", Bold, Reset)
	}

	workStatusPath := filepath.Join(stateDir, "work-status.json")
	data, err := os.ReadFile(workStatusPath)
	if err != nil {
		fmt.Printf("\n%sItems:%s    (none)\n", Bold, Reset)
		return
	}
	var f workstatus.File
	if err := json.Unmarshal(data, &f); err != nil {
		fmt.Printf("\n%sItems:%s    (unreadable work-status.json)\n", Bold, Reset)
		return
	}

	keys := make([]string, 0, len(f.Items))
	for k := range f.Items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n%sItems:%s\n", Bold, Reset)
	for _, k := range keys {
		item := f.Items[k]
		fmt.Printf("  %-6s %-28s %s%s%s\n", item.ItemType, k, stateColor(item.State), string(item.State), Reset)
	}
	fmt.Println()
}

func stateColor(state workstatus.ItemState) string {
	switch state {
	case workstatus.StateComplete:
		return Green
	case workstatus.StateBlocked, workstatus.StateError:
		return Red
	case workstatus.StateInProgress:
		return Yellow
	default:
		return Dim
	}
}
