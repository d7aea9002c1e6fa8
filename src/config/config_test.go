package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/r13y/src/report"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingDefaultFileGivesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r13y.yml", `
version: 1
report:
  out_dir: public
  concurrency: 8
  on_diff_error: annotate
diff:
  backend: unified
  timeout: 90s
index:
  backend: badger
  path: .r13y/index
links:
  - pattern: hello
    url: https://example.org/hello
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "public", cfg.Report.OutDir)
	assert.Equal(t, "diff", cfg.Report.DiffDir)
	assert.Equal(t, 8, cfg.Report.Concurrency)
	assert.Equal(t, "annotate", cfg.Report.OnDiffError)
	assert.Equal(t, 90*time.Second, cfg.Diff.Timeout)
	assert.Equal(t, "badger", cfg.Index.Backend)
	assert.True(t, cfg.Secrets.Redact)

	_, err = Validate(cfg)
	require.NoError(t, err)

	refs, err := cfg.CrossRefs()
	require.NoError(t, err)
	assert.Equal(t, report.CrossRefs{{Pattern: "hello", URL: "https://example.org/hello"}}, refs)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r13y.yml", "version: 7\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown config version 7")
}

func TestValidateReportsYAMLPaths(t *testing.T) {
	cfg := Defaults()
	cfg.Report.OnDiffError = "ignore"
	cfg.Diff.Backend = "meld"
	cfg.Index.Backend = "badger"
	cfg.Report.Concurrency = -1
	cfg.Links = []LinkConfig{{Pattern: "x", URL: "not a url"}}
	cfg.LinksFile = "links.json"

	_, err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{
		`report.on_diff_error: "ignore" is not one of abort, annotate`,
		`diff.backend: "meld" is not one of diffoscope, unified`,
		"index.path: is required when Backend is badger",
		"report.concurrency: must be at least 0",
		`links[0].url: "not a url" is not a URL`,
		"links_file:",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := Defaults()
	cfg.Secrets.Redact = false
	cfg.Diff.Backend = "unified"
	cfg.Diff.Args = []string{"--exclude-directory-metadata"}

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
}

func TestCrossRefsDefaultTable(t *testing.T) {
	refs, err := Defaults().CrossRefs()
	require.NoError(t, err)
	assert.Equal(t, report.DefaultCrossRefs(), refs)
}

func TestLinksFileFormats(t *testing.T) {
	dir := t.TempDir()
	yml := writeFile(t, dir, "links.yaml", `
links:
  - pattern: opensc
    url: https://github.com/OpenSC/OpenSC/pull/1839
`)
	tml := writeFile(t, dir, "links.toml", `
[[links]]
pattern = "udisks"
url = "https://github.com/storaged-project/udisks/issues/715"
`)

	for _, tc := range []struct {
		path, pattern string
	}{{yml, "opensc"}, {tml, "udisks"}} {
		cfg := Defaults()
		cfg.Links = []LinkConfig{{Pattern: "inline", URL: "https://example.org"}}
		cfg.LinksFile = tc.path

		refs, err := cfg.CrossRefs()
		require.NoError(t, err, tc.path)
		require.Len(t, refs, 2)
		assert.Equal(t, "inline", refs[0].Pattern)
		assert.Equal(t, tc.pattern, refs[1].Pattern)
	}
}

func TestLinksFileRejectsInvalidEntries(t *testing.T) {
	path := writeFile(t, t.TempDir(), "links.toml", "[[links]]\npattern = \"x\"\n")
	_, err := LoadLinks(path)
	assert.ErrorContains(t, err, "links[0]")
}
