// Package diffoscope renders human-readable diffs of two build outputs by
// driving an external diff tool.
package diffoscope

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Differ renders the difference between two content locations of one output.
type Differ interface {
	Diff(ctx context.Context, name, a, b string) ([]byte, error)
}

// ToolError reports a failed external tool invocation.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 512 {
		msg = msg[:512] + "…"
	}
	if msg == "" {
		return fmt.Sprintf("%s: exit %d: %v", e.Tool, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s: exit %d: %s", e.Tool, e.ExitCode, msg)
}

func (e *ToolError) Unwrap() error { return e.Err }

// runner executes a tool and returns stdout. Exit codes 0 and 1 mean
// "identical" and "different" for both supported tools.
type runner struct {
	binary  string
	timeout time.Duration
}

func (r runner) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	bin := r.binary
	if strings.ContainsRune(bin, filepath.Separator) {
		// Relative paths would otherwise resolve against dir.
		if abs, err := filepath.Abs(bin); err == nil {
			bin = abs
		}
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && ctx.Err() == nil {
		return stdout.Bytes(), nil
	}

	code := -1
	if exitErr != nil {
		code = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return nil, &ToolError{Tool: filepath.Base(r.binary), ExitCode: code, Stderr: stderr.String(), Err: err}
}

// placeFunc puts target at dst inside the scratch directory.
type placeFunc func(target, dst string) error

// symlinkPlace links dst to target. diff follows symlinks named on its
// command line, for files and directories alike.
func symlinkPlace(target, dst string) error {
	return os.Symlink(target, dst)
}

// materializePlace hard links dst to target, copying when a link is not
// possible. Tools that compare a symlink as a link need a real file.
func materializePlace(target, dst string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", target)
	}
	if err := os.Link(target, dst); err == nil {
		return nil
	}

	in, err := os.Open(target)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// stage places a and b into a scratch directory as a/<name> and b/<name> so
// the rendered diff is labelled with the output name rather than a store hash.
func stage(scratch, name, a, b string, place placeFunc) (dir string, cleanup func(), err error) {
	dir, err = os.MkdirTemp(scratch, "r13y-diff-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	label := sanitizeName(name)
	for _, side := range []struct{ name, target string }{{"a", a}, {"b", b}} {
		abs, err := filepath.Abs(side.target)
		if err != nil {
			cleanup()
			return "", nil, err
		}
		if err := os.Mkdir(filepath.Join(dir, side.name), 0o755); err != nil {
			cleanup()
			return "", nil, err
		}
		if err := place(abs, filepath.Join(dir, side.name, label)); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("staging %s: %w", side.name, err)
		}
	}
	return dir, cleanup, nil
}

// sanitizeName turns an output name into a single safe path segment.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "output"
	}
	return name
}
