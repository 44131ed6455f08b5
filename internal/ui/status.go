package ui

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"

	"github.com/modelfetch/modelfetch/internal/state"
)

// PrintSnapshot prints a formatted table of a session's per-file
// progress, for the "status" command.
func PrintSnapshot(snap *state.Snapshot) {
	if snap == nil || len(snap.Files) == 0 {
		fmt.Println("No download in progress.")
		return
	}

	fmt.Printf("\ntier: %s   %s / %s   %s\n\n",
		snap.Tier, units.BytesSize(float64(snap.CompletedSize)), units.BytesSize(float64(snap.TotalSize)), completionLabel(snap.IsCompleted))

	fmt.Printf("%-30s %-12s %-10s %s\n", "File", "Size", "Progress", "Status")
	fmt.Println(strings.Repeat("-", 70))

	for _, f := range snap.Files {
		progress := "-"
		if f.TotalSize > 0 {
			pct := float64(f.CompletedBytes()) / float64(f.TotalSize) * 100
			progress = fmt.Sprintf("%.1f%%", pct)
		}
		fmt.Printf("%-30s %-12s %-10s %s\n",
			truncate(f.FileName, 30), units.BytesSize(float64(f.TotalSize)), progress, fileLabel(&f))
	}
	fmt.Println()
}

// fileLabel names the file's place in its lifecycle. Every chunk being
// fetched without the file being complete means the merge/verify step
// was interrupted.
func fileLabel(f *state.FileProgress) string {
	switch {
	case f.IsCompleted:
		return "complete"
	case len(f.Chunks) > 0 && f.AllChunksCompleted():
		return "merging"
	default:
		return "in progress"
	}
}

func completionLabel(done bool) string {
	if done {
		return "complete"
	}
	return "in progress"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
