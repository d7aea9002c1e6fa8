package diffoscope

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"path/filepath"
	"time"

	"github.com/sourcegraph/go-diff/diff"
)

// DefaultDiffBinary is the diffutils binary used by the unified backend.
const DefaultDiffBinary = "diff"

// Unified renders a recursive unified diff as a standalone HTML page with
// per-file line statistics. It is a lighter stand-in for diffoscope.
type Unified struct {
	Binary  string
	Timeout time.Duration
	// ScratchDir holds the staged a/ and b/ trees. Empty means os.TempDir.
	ScratchDir string
}

// Diff runs `diff -ruN --text a/<name> b/<name>` and renders the result.
func (u *Unified) Diff(ctx context.Context, name, a, b string) ([]byte, error) {
	dir, cleanup, err := stage(u.ScratchDir, name, a, b, symlinkPlace)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	label := sanitizeName(name)
	bin := u.Binary
	if bin == "" {
		bin = DefaultDiffBinary
	}
	out, err := runner{binary: bin, timeout: u.Timeout}.run(ctx, dir,
		"-ruN", "--text", filepath.Join("a", label), filepath.Join("b", label))
	if err != nil {
		return nil, err
	}
	return RenderUnified(name, out)
}

// FileStat summarises one file of a unified diff.
type FileStat struct {
	Name    string
	Added   int
	Deleted int
}

// ParseStats parses unified diff text and returns per-file statistics.
func ParseStats(patch []byte) ([]FileStat, []*diff.FileDiff, error) {
	if len(bytes.TrimSpace(patch)) == 0 {
		return nil, nil, nil
	}
	files, err := diff.NewMultiFileDiffReader(bytes.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, nil, fmt.Errorf("parsing unified diff: %w", err)
	}
	stats := make([]FileStat, 0, len(files))
	for _, fd := range files {
		st := fd.Stat()
		name := fd.NewName
		if name == "" || name == "/dev/null" {
			name = fd.OrigName
		}
		stats = append(stats, FileStat{
			Name:    name,
			Added:   int(st.Added + st.Changed),
			Deleted: int(st.Deleted + st.Changed),
		})
	}
	return stats, files, nil
}

var unifiedPage = template.Must(template.New("unified").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>diff of {{.Name}}</title>
<style>body{font-family:monospace}.add{color:#22863a}.del{color:#cb2431}pre{white-space:pre-wrap}</style>
</head>
<body>
<h1>{{.Name}}</h1>
{{if .Stats}}<table>
{{range .Stats}}<tr><td>{{.Name}}</td><td class="add">+{{.Added}}</td><td class="del">-{{.Deleted}}</td></tr>
{{end}}</table>
{{else}}<p>no textual differences</p>
{{end}}<pre>{{.Body}}</pre>
</body>
</html>
`))

// RenderUnified wraps unified diff text in an HTML page.
func RenderUnified(name string, patch []byte) ([]byte, error) {
	stats, files, err := ParseStats(patch)
	if err != nil {
		return nil, err
	}

	body := patch
	if len(files) > 0 {
		// Re-print from the parsed form so the page is normalised.
		if printed, err := diff.PrintMultiFileDiff(files); err == nil {
			body = printed
		}
	}

	var buf bytes.Buffer
	if err := unifiedPage.Execute(&buf, struct {
		Name  string
		Stats []FileStat
		Body  string
	}{Name: name, Stats: stats, Body: string(body)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
