// Package output renders terminal summaries and CI artifacts for a report run.
package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sofmeright/r13y/src/diffcache"
	"github.com/sofmeright/r13y/src/report"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// UseColor returns true if colored output should be used.
// Respects NO_COLOR env, TERM=dumb, and terminal detection.
func UseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal() || IsCI()
}

func colorize(text, code string, color bool) string {
	if !color {
		return text
	}
	return code + text + colorReset
}

// percentColor picks the terminal color matching the badge thresholds.
func percentColor(t report.Tally) string {
	r, ok := t.Ratio()
	switch {
	case !ok:
		return colorGray
	case r >= 0.99:
		return colorGreen
	case r >= 0.90:
		return colorYellow
	default:
		return colorRed
	}
}

// Summary writes the run summary: counts, percentage and cache activity.
func Summary(w io.Writer, s *report.Summary, stats diffcache.Stats, elapsed time.Duration, color bool) {
	sec := NewSection(w, "Reproducibility", elapsed, color)
	sec.KV("revision", s.Revision)
	sec.KV("run", Dimmed(s.RunID, color))
	sec.Separator()
	sec.KV("total", s.Tally.Total)
	sec.KV("reproduced", s.Tally.Reproducible)
	sec.KV("unchecked", s.Tally.Unchecked)
	sec.KV("unreproduced", s.Tally.Unreproducible)
	sec.KV("percent", colorize(s.Tally.Percent(), colorBold+percentColor(s.Tally), color))
	sec.Separator()
	sec.KV("diffs computed", stats.Computed)
	sec.KV("diffs on disk", stats.DiskHits)
	sec.KV("diffs reused", stats.MemoryHits)
	sec.Close()
}

// Entries lists each unreproducible definition with its diffs, in report order.
func Entries(w io.Writer, entries []report.Entry, color bool) {
	if len(entries) == 0 {
		return
	}
	sec := NewSection(w, "Unreproduced", 0, color)
	for _, e := range entries {
		sec.Row("%s", colorize(e.Definition, colorBold, color))
		for _, d := range e.Diffs {
			sec.Row("  %s %-10s %s", StatusIcon("failed", color), d.Output, Dimmed(d.Href, color))
		}
		for _, m := range e.Missing {
			sec.Row("  %s %-10s %s", StatusIcon("skipped", color), m, colorize("no output named "+m, colorYellow, color))
		}
		for _, f := range e.Failures {
			sec.Row("  %s %-10s %s", StatusIcon("skipped", color), f.Output, colorize(f.Reason, colorRed, color))
		}
		for _, l := range e.Links {
			sec.Row("    %s", colorize(l, colorCyan, color))
		}
	}
	sec.Close()
}

// Incomplete lists the definitions that stopped a run.
func Incomplete(w io.Writer, err *report.IncompleteVerificationError, color bool) {
	sec := NewSection(w, "Incomplete verification", 0, color)
	sec.Row("%s", colorize(fmt.Sprintf("%d definitions never completed a first build", len(err.Definitions)), colorRed, color))
	for _, d := range err.Definitions {
		sec.Row("  %s %s", StatusIcon("failed", color), d)
	}
	sec.Close()
}
