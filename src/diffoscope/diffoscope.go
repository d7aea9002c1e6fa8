package diffoscope

import (
	"context"
	"path/filepath"
	"time"
)

// DefaultBinary is looked up on PATH when no binary is configured.
const DefaultBinary = "diffoscope"

// Diffoscope renders an HTML report with the diffoscope tool.
type Diffoscope struct {
	Binary  string
	Args    []string
	Timeout time.Duration
	// ScratchDir holds the staged copies. Hard links only work when it is on
	// the same filesystem as the source store. Empty means os.TempDir.
	ScratchDir string
}

// Diff runs `diffoscope --html - a/<name> b/<name>` and returns the HTML.
// diffoscope compares a symlinked argument as a link, so the blobs are hard
// linked or copied under the output name instead.
func (d *Diffoscope) Diff(ctx context.Context, name, a, b string) ([]byte, error) {
	dir, cleanup, err := stage(d.ScratchDir, name, a, b, materializePlace)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	label := sanitizeName(name)
	args := append([]string{"--html", "-"}, d.Args...)
	args = append(args, filepath.Join("a", label), filepath.Join("b", label))

	bin := d.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	return runner{binary: bin, timeout: d.Timeout}.run(ctx, dir, args...)
}
