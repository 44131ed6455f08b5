// Package ui renders download progress and status tables to the
// terminal, switching between a live redrawing display and a flat log
// depending on whether stderr is a TTY.
package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"golang.org/x/term"

	"github.com/modelfetch/modelfetch/internal/state"
)

// ProgressTracker renders a session Snapshot to the terminal. When
// stderr is a TTY it redraws in place every render; otherwise it falls
// back to appending a line per update, since ANSI cursor movement
// garbles piped or logged output.
type ProgressTracker struct {
	mu       sync.Mutex
	rendered int
	isTTY    bool
	last     time.Time
}

// NewProgressTracker creates a tracker, detecting TTY status from
// stderr's file descriptor.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{isTTY: term.IsTerminal(int(os.Stderr.Fd()))}
}

// Render draws the given snapshot. In TTY mode it redraws in place; in
// non-TTY mode it prints one summary line, throttled to once/second so
// piped output doesn't scroll by unreadably fast.
func (pt *ProgressTracker) Render(snap state.Snapshot) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if !pt.isTTY {
		if time.Since(pt.last) < time.Second && !snap.IsCompleted {
			return
		}
		pt.last = time.Now()
		fmt.Fprintf(os.Stderr, "%s: %s / %s (%d/%d files)\n",
			snap.Tier, units.BytesSize(float64(snap.CompletedSize)), units.BytesSize(float64(snap.TotalSize)),
			completedFileCount(snap), len(snap.Files))
		return
	}

	if pt.rendered > 0 {
		fmt.Fprintf(os.Stderr, "\033[%dA", pt.rendered)
	}
	lines := 0
	for _, f := range snap.Files {
		name := f.FileName
		if len(name) > 30 {
			name = "..." + name[len(name)-27:]
		}
		var line string
		switch {
		case f.IsCompleted:
			line = fmt.Sprintf("  %-30s %s  %s\n", name, formatBar(f.TotalSize, f.TotalSize, 25), units.BytesSize(float64(f.TotalSize)))
		default:
			current := f.CompletedBytes()
			line = fmt.Sprintf("  %-30s %s  %s / %s\n", name, formatBar(current, f.TotalSize, 25),
				units.BytesSize(float64(current)), units.BytesSize(float64(f.TotalSize)))
		}
		fmt.Fprintf(os.Stderr, "\033[K%s", line)
		lines++
	}
	pt.rendered = lines
}

func completedFileCount(snap state.Snapshot) int {
	n := 0
	for _, f := range snap.Files {
		if f.IsCompleted {
			n++
		}
	}
	return n
}

// formatBar builds a progress bar like [========>         ] 45%.
func formatBar(current, total int64, width int) string {
	if total <= 0 {
		return fmt.Sprintf("[%s]   0%%", strings.Repeat(" ", width))
	}
	pct := float64(current) / float64(total)
	if pct > 1.0 {
		pct = 1.0
	}
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("=", filled)
	if filled < width {
		bar += ">"
		bar += strings.Repeat(" ", width-filled-1)
	}
	return fmt.Sprintf("[%s] %3.0f%%", bar, pct*100)
}
