// Package redact scrubs secrets out of rendered diff artifacts before they
// are published next to the report.
package redact

import (
	"bytes"
	"sort"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"
)

// Placeholder replaces every detected secret.
const Placeholder = "[REDACTED]"

// Finding describes one redacted secret. The secret itself is not retained.
type Finding struct {
	RuleID      string
	Description string
	Line        int
}

type detector interface {
	DetectBytes(content []byte) []report.Finding
}

// Redactor wraps a gitleaks detector. It is safe for concurrent use.
type Redactor struct {
	mu   sync.Mutex
	once sync.Once
	det  detector
	err  error
}

// New returns a redactor using the gitleaks default rule set. The rules are
// compiled on first use.
func New() *Redactor {
	return &Redactor{}
}

func newWithDetector(d detector) *Redactor {
	r := &Redactor{det: d}
	r.once.Do(func() {})
	return r
}

func (r *Redactor) init() error {
	r.once.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			r.err = err
			return
		}
		r.det = d
	})
	return r.err
}

// Redact returns data with detected secrets replaced by Placeholder.
// When nothing is found the input slice is returned unchanged.
func (r *Redactor) Redact(data []byte) ([]byte, []Finding, error) {
	if err := r.init(); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	hits := r.det.DetectBytes(data)
	r.mu.Unlock()
	if len(hits) == 0 {
		return data, nil, nil
	}

	findings := make([]Finding, 0, len(hits))
	secrets := make([]string, 0, len(hits))
	for _, h := range hits {
		findings = append(findings, Finding{
			RuleID:      h.RuleID,
			Description: h.Description,
			Line:        h.StartLine + 1, // gitleaks is 0-indexed
		})
		if h.Secret != "" {
			secrets = append(secrets, h.Secret)
		}
	}

	// Longest first so a secret containing another is replaced whole.
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })
	out := data
	for _, s := range secrets {
		out = bytes.ReplaceAll(out, []byte(s), []byte(Placeholder))
	}
	return out, findings, nil
}
