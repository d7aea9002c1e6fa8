package report

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/sofmeright/r13y/src/cas"
	"github.com/sofmeright/r13y/src/outcome"
)

// Output file names inside the report directory.
const (
	PageFile    = "index.html"
	PayloadFile = "report.json"
)

//go:embed template.html
var defaultPage string

// DefaultPage is the page template used when none is configured.
var DefaultPage = template.Must(template.New("page").Parse(defaultPage))

// ParsePage parses a user supplied page template. It sees a Payload.
func ParsePage(text string) (*template.Template, error) {
	return template.New("page").Parse(text)
}

// Payload is the data handed to the page template and written as JSON.
type Payload struct {
	ReproducedCount      int           `json:"reproduced_count"`
	UncheckedCount       int           `json:"unchecked_count"`
	TotalCount           int           `json:"total_count"`
	Percent              string        `json:"percent"`
	Revision             string        `json:"revision"`
	GeneratedAt          time.Time     `json:"generated_at"`
	UnreproducedFragment template.HTML `json:"unreproduced_fragment"`
	RunID                string        `json:"run_id"`
}

var fragment = template.Must(template.New("fragment").Parse(
	`{{range .Entries}}{{$e := .}}<li><code>{{.Definition}}</code><ul>
{{range .Links}}<li><a href="{{.}}">more info...</a></li>
{{end}}{{range .Diffs}}<li><a href="{{.Href}}">{{$.Label}}</a> {{.Output}}{{if .Redactions}} <em>({{.Redactions}} secrets redacted)</em>{{end}}</li>
{{end}}{{range .Missing}}<li><mark>no output named {{.}}</mark> <a href="{{$e.DefinitionHref}}">(drv)</a></li>
{{end}}{{range .Failures}}<li><mark>diff of {{.Output}} failed: {{.Reason}}</mark></li>
{{end}}</ul></li>
{{end}}`))

// DefaultDiffLabel is the link text of each diff.
const DefaultDiffLabel = "(diffoscope)"

// Fragment renders the entries as list items, in order.
func Fragment(entries []Entry, label string) (template.HTML, error) {
	if label == "" {
		label = DefaultDiffLabel
	}
	var buf bytes.Buffer
	err := fragment.Execute(&buf, struct {
		Entries []Entry
		Label   string
	}{entries, label})
	if err != nil {
		return "", fmt.Errorf("rendering fragment: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// NewPayload builds the template payload for s.
func NewPayload(s *Summary, label string) (Payload, error) {
	frag, err := Fragment(s.Entries, label)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		ReproducedCount:      s.Tally.Reproducible,
		UncheckedCount:       s.Tally.Unchecked,
		TotalCount:           s.Tally.Total,
		Percent:              s.Tally.Percent(),
		Revision:             s.Revision,
		GeneratedAt:          s.GeneratedAt,
		UnreproducedFragment: frag,
		RunID:                s.RunID,
	}, nil
}

// File is a rendered report file, relative to the report directory.
type File struct {
	Name string
	Data []byte
}

// Extra renders an additional report file, such as a badge.
type Extra func(s *Summary, p Payload) (File, error)

// Publisher renders a Summary and writes it into a report directory.
type Publisher struct {
	Store     *cas.Store
	Page      *template.Template
	DiffLabel string
	Extras    []Extra
}

// Render produces every report file in memory. Nothing is written.
func (p *Publisher) Render(s *Summary) ([]File, error) {
	payload, err := NewPayload(s, p.DiffLabel)
	if err != nil {
		return nil, err
	}

	page := p.Page
	if page == nil {
		page = DefaultPage
	}
	var html bytes.Buffer
	if err := page.Execute(&html, payload); err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	var files []File
	for _, extra := range p.Extras {
		f, err := extra(s, payload)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	// The page goes last so a reader never sees it before what it links to.
	files = append(files,
		File{Name: PayloadFile, Data: append(data, '\n')},
		File{Name: PageFile, Data: html.Bytes()},
	)
	return files, nil
}

// Publish renders s and writes the files into the store. Every file is
// staged in a scratch directory under the store root first; only when all
// of them are on disk are they renamed into place, the page last. A failure
// before that point leaves the previous report untouched.
func (p *Publisher) Publish(s *Summary) ([]string, error) {
	files, err := p.Render(s)
	if err != nil {
		return nil, err
	}

	root := p.Store.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", root, err)
	}
	staging, err := os.MkdirTemp(root, ".publish-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, f := range files {
		staged := filepath.Join(staging, f.Name)
		if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
			return nil, fmt.Errorf("staging %s: %w", f.Name, err)
		}
		if err := os.WriteFile(staged, f.Data, 0o644); err != nil {
			return nil, fmt.Errorf("staging %s: %w", f.Name, err)
		}
		dest := p.Store.Join(f.Name)
		if info, err := os.Stat(dest); err == nil && info.IsDir() {
			return nil, fmt.Errorf("writing %s: %s is a directory", f.Name, dest)
		}
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		dest := p.Store.Join(f.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return written, fmt.Errorf("writing %s: %w", f.Name, err)
		}
		if err := os.Rename(filepath.Join(staging, f.Name), dest); err != nil {
			return written, fmt.Errorf("writing %s: %w", f.Name, err)
		}
		written = append(written, dest)
	}
	return written, nil
}

// Generate runs agg and publishes the result. On any error, including an
// incomplete verification, no report file is written.
func Generate(ctx context.Context, agg *Aggregator, pub *Publisher, req outcome.Request, inst *outcome.Instantiation) (*Summary, []string, error) {
	s, err := agg.Run(ctx, req, inst)
	if err != nil {
		return nil, nil, err
	}
	written, err := pub.Publish(s)
	if err != nil {
		return s, written, err
	}
	return s, written, nil
}
