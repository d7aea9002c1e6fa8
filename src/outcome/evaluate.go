package outcome

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Instantiation is what an evaluation yields: the definitions in scope and
// every outcome recorded so far.
type Instantiation struct {
	ToBuild []string
	Results []Outcome
}

// Scope returns the in-scope definitions as a set.
func (i *Instantiation) Scope() Scope {
	return NewScope(i.ToBuild)
}

// Evaluator produces the instantiation for a request.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*Instantiation, error)
}

// FileEvaluator reads a previously produced evaluation from disk: a list of
// definitions (one per line) and a JSON-lines file of outcomes.
type FileEvaluator struct {
	ToBuildPath string
	ResultsPath string
}

// Evaluate loads the instantiation. The request is not consulted; filtering
// by request is the classifier's job.
func (e FileEvaluator) Evaluate(ctx context.Context, _ Request) (*Instantiation, error) {
	toBuild, err := ReadToBuild(e.ToBuildPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results, err := ReadResults(e.ResultsPath)
	if err != nil {
		return nil, err
	}
	return &Instantiation{ToBuild: toBuild, Results: results}, nil
}

// ReadToBuild reads definition identifiers, skipping blank and # lines.
func ReadToBuild(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading to-build list: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ids, nil
}

// ReadResults reads one JSON outcome per line. A missing file means no
// outcomes have been recorded yet.
func ReadResults(path string) ([]Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading results: %w", err)
	}
	defer f.Close()

	var results []Outcome
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var o Outcome
		if err := json.Unmarshal([]byte(line), &o); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		results = append(results, o)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return results, nil
}

// ReadRequest decodes a request file ({"V1": {...}}).
func ReadRequest(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Request{}, fmt.Errorf("reading request: %w", err)
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, err
	}
	return r, nil
}
