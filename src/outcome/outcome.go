// Package outcome holds the build outcome model produced by the evaluator and
// the classifier that selects the outcomes relevant to one report.
package outcome

import (
	"fmt"
	"path/filepath"
)

// Outcome is the recorded result of building a definition twice and
// comparing the outputs.
type Outcome struct {
	Request Request `json:"request"`
	Drv     string  `json:"drv"`
	Status  Status  `json:"status"`
}

// Validate checks the outcome and its status invariants.
func (o Outcome) Validate() error {
	if o.Drv == "" {
		return fmt.Errorf("outcome without drv")
	}
	if err := o.Status.Validate(); err != nil {
		return fmt.Errorf("%s: %w", o.Drv, err)
	}
	return nil
}

// MatchRevision returns a predicate selecting requests for revision.
func MatchRevision(revision string) func(Request) bool {
	return func(r Request) bool { return r.NixpkgsRevision == revision }
}

// Scope is the set of definition identifiers considered by a report.
type Scope map[string]bool

// NewScope builds a scope from identifiers, normalising path spelling.
func NewScope(ids []string) Scope {
	s := make(Scope, len(ids))
	for _, id := range ids {
		s[filepath.Clean(id)] = true
	}
	return s
}

// Contains reports whether id is in scope.
func (s Scope) Contains(id string) bool {
	return s[filepath.Clean(id)]
}

// Filter returns the outcomes whose request matches and whose definition is
// in scope, in arrival order.
func Filter(outcomes []Outcome, match func(Request) bool, scope Scope) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if match(o.Request) && scope.Contains(o.Drv) {
			out = append(out, o)
		}
	}
	return out
}

// Buckets partitions outcomes by status, each bucket in arrival order.
type Buckets struct {
	Reproducible   []Outcome
	FirstFailed    []Outcome
	SecondFailed   []Outcome
	Unreproducible []Outcome
}

// Total returns the number of partitioned outcomes.
func (b Buckets) Total() int {
	return len(b.Reproducible) + len(b.FirstFailed) + len(b.SecondFailed) + len(b.Unreproducible)
}

// Partition splits outcomes into their status buckets.
func Partition(outcomes []Outcome) Buckets {
	var b Buckets
	for _, o := range outcomes {
		switch o.Status.Kind {
		case Reproducible:
			b.Reproducible = append(b.Reproducible, o)
		case FirstFailed:
			b.FirstFailed = append(b.FirstFailed, o)
		case SecondFailed:
			b.SecondFailed = append(b.SecondFailed, o)
		case Unreproducible:
			b.Unreproducible = append(b.Unreproducible, o)
		}
	}
	return b
}
