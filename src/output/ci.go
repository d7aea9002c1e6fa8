package output

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sofmeright/r13y/src/outcome"
	"github.com/sofmeright/r13y/src/report"
)

// CI environment detection.

func IsCI() bool {
	return os.Getenv("CI") == "true"
}

func IsGitLabCI() bool {
	return os.Getenv("GITLAB_CI") == "true"
}

// GitLab collapsible section helpers.

func SectionStart(w io.Writer, id, name string) {
	if !IsGitLabCI() {
		return
	}
	fmt.Fprintf(w, "\033[0Ksection_start:%d:%s\r\033[0K%s\n", time.Now().Unix(), id, name)
}

func SectionEnd(w io.Writer, id string) {
	if !IsGitLabCI() {
		return
	}
	fmt.Fprintf(w, "\033[0Ksection_end:%d:%s\r\033[0K\n", time.Now().Unix(), id)
}

// CIHeader prints a compact pipeline context line at the start of a CI run.
func CIHeader(w io.Writer) {
	if !IsCI() {
		return
	}
	var parts []string
	if sha := os.Getenv("CI_COMMIT_SHORT_SHA"); sha != "" {
		parts = append(parts, "sha="+sha)
	} else if sha := os.Getenv("CI_COMMIT_SHA"); len(sha) >= 8 {
		parts = append(parts, "sha="+sha[:8])
	}
	if pipe := os.Getenv("CI_PIPELINE_ID"); pipe != "" {
		parts = append(parts, "pipeline="+pipe)
	}
	if runner := os.Getenv("CI_RUNNER_DESCRIPTION"); runner != "" {
		parts = append(parts, "runner="+runner)
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "  ci: %s\n", strings.Join(parts, "  "))
	}
}

// JUnit XML types for CI test reporting.

type JUnitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []JUnitTestSuite `xml:"testsuite"`
}

type JUnitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type JUnitSkipped struct {
	Message string `xml:"message,attr"`
}

// JUnit renders the considered outcomes as JUnit XML: one case per
// definition, unreproducible ones failing and unchecked ones skipped. Failure
// bodies list the diff links of the matching report entry.
func JUnit(s *report.Summary, elapsed time.Duration) ([]byte, error) {
	diffs := make(map[string]report.Entry, len(s.Entries))
	for _, e := range s.Entries {
		diffs[e.Definition] = e
	}

	suite := JUnitTestSuite{
		Name: "r13y/" + s.Revision,
		Time: fmt.Sprintf("%.3f", elapsed.Seconds()),
	}
	for _, o := range s.Considered {
		tc := JUnitTestCase{Name: o.Drv, Classname: "r13y.reproducibility", Time: "0.000"}
		switch o.Status.Kind {
		case outcome.Unreproducible:
			var lines []string
			e := diffs[o.Drv]
			for _, d := range e.Diffs {
				lines = append(lines, fmt.Sprintf("  %s %s", d.Output, d.Href))
			}
			for _, m := range e.Missing {
				lines = append(lines, fmt.Sprintf("  %s (no output named %s)", m, m))
			}
			for _, f := range e.Failures {
				lines = append(lines, fmt.Sprintf("  %s (diff failed: %s)", f.Output, f.Reason))
			}
			tc.Failure = &JUnitFailure{
				Message: fmt.Sprintf("%d output(s) differ between builds", len(o.Status.Hashes)),
				Type:    o.Status.Kind.String(),
				Body:    strings.Join(lines, "\n"),
			}
			suite.Failures++
		case outcome.SecondFailed, outcome.FirstFailed:
			tc.Skipped = &JUnitSkipped{Message: o.Status.Kind.String()}
			suite.Skipped++
		}
		suite.Cases = append(suite.Cases, tc)
		suite.Tests++
	}

	root := JUnitTestSuites{
		Name:     "r13y",
		Tests:    suite.Tests,
		Failures: suite.Failures,
		Skipped:  suite.Skipped,
		Time:     suite.Time,
		Suites:   []JUnitTestSuite{suite},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encoding junit xml: %w", err)
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
