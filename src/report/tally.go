package report

import (
	"fmt"
	"strings"

	"github.com/sofmeright/r13y/src/outcome"
)

// NotApplicable is the percentage shown when no outcome was considered.
const NotApplicable = "n/a"

// Tally counts considered outcomes by status.
type Tally struct {
	Total          int
	Reproducible   int
	Unchecked      int
	Unreproducible int
	FirstFailed    []string
}

// Count tallies outcomes in one pass. FirstFailed keeps arrival order.
func Count(outcomes []outcome.Outcome) Tally {
	var t Tally
	for _, o := range outcomes {
		t.Total++
		switch o.Status.Kind {
		case outcome.Reproducible:
			t.Reproducible++
		case outcome.SecondFailed:
			t.Unchecked++
		case outcome.FirstFailed:
			t.FirstFailed = append(t.FirstFailed, o.Drv)
		case outcome.Unreproducible:
			t.Unreproducible++
		}
	}
	return t
}

// Ratio returns reproducible/total; ok is false when total is zero.
func (t Tally) Ratio() (ratio float64, ok bool) {
	if t.Total == 0 {
		return 0, false
	}
	return float64(t.Reproducible) / float64(t.Total), true
}

// Percent formats the ratio with two decimals, e.g. "97.32%".
func (t Tally) Percent() string {
	r, ok := t.Ratio()
	if !ok {
		return NotApplicable
	}
	return fmt.Sprintf("%.2f%%", 100*r)
}

// IncompleteVerificationError is returned when definitions never completed a
// first build. A report over such a run would overstate coverage.
type IncompleteVerificationError struct {
	Definitions []string
}

func (e *IncompleteVerificationError) Error() string {
	return fmt.Sprintf("%d definitions are unchecked (first build failed):\n  %s",
		len(e.Definitions), strings.Join(e.Definitions, "\n  "))
}
