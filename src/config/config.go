// Package config loads .r13y.yml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigFile = ".r13y.yml"

// Config is the top-level r13y configuration.
type Config struct {
	Version   int           `yaml:"version" validate:"eq=1"`
	Input     InputConfig   `yaml:"input"`
	Report    ReportConfig  `yaml:"report"`
	Store     StoreConfig   `yaml:"store"`
	Diff      DiffConfig    `yaml:"diff"`
	Index     IndexConfig   `yaml:"index"`
	Links     []LinkConfig  `yaml:"links" validate:"dive"`
	LinksFile string        `yaml:"links_file"`
	Badge     BadgeConfig   `yaml:"badge"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Secrets   SecretsConfig `yaml:"secrets"`
	JUnit     JUnitConfig   `yaml:"junit"`
	Log       LogConfig     `yaml:"log"`
}

// InputConfig names the files a run reads.
type InputConfig struct {
	Request string `yaml:"request" validate:"required"`
	ToBuild string `yaml:"to_build" validate:"required"`
	Results string `yaml:"results" validate:"required"`
	// Nixpkgs is a checkout whose HEAD (or Revision) names the revision
	// under test when the request file is absent.
	Nixpkgs  string `yaml:"nixpkgs"`
	Revision string `yaml:"revision"`
}

// ReportConfig controls the report directory.
type ReportConfig struct {
	OutDir      string `yaml:"out_dir" validate:"required"`
	DiffDir     string `yaml:"diff_dir" validate:"required"`
	Ext         string `yaml:"ext" validate:"required,alphanum"`
	Concurrency int    `yaml:"concurrency" validate:"min=0"`
	OnDiffError string `yaml:"on_diff_error" validate:"oneof=abort annotate"`
	Template    string `yaml:"template"`
	DiffLabel   string `yaml:"diff_label"`
	// DrvRoot prefixes definition identifiers when reading them, for
	// relocated stores.
	DrvRoot string `yaml:"drv_root"`
}

// StoreConfig locates the content-addressed blob store holding build outputs.
type StoreConfig struct {
	Source string `yaml:"source" validate:"required"`
}

// DiffConfig selects the diff tool.
type DiffConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=diffoscope unified"`
	Binary  string        `yaml:"binary"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// IndexConfig selects where computed diffs are recorded.
type IndexConfig struct {
	Backend string `yaml:"backend" validate:"oneof=dir badger"`
	Path    string `yaml:"path" validate:"required_if=Backend badger"`
}

// LinkConfig is one cross-reference entry.
type LinkConfig struct {
	Pattern string `yaml:"pattern" toml:"pattern" validate:"required"`
	URL     string `yaml:"url" toml:"url" validate:"required,url"`
}

// MetricsConfig controls the prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// SecretsConfig controls redaction of diff artifacts.
type SecretsConfig struct {
	Redact bool `yaml:"redact"`
}

// JUnitConfig controls the JUnit XML export.
type JUnitConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output" validate:"required_if=Enabled true"`
}

// LogConfig controls log output.
type LogConfig struct {
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Load reads configuration from a YAML file over the defaults.
// If path is empty, it tries the default file; a missing default file
// yields the defaults. An explicitly named file must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, err
	}

	if err := checkVersion(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Input: InputConfig{
			Request: "request.json",
			ToBuild: "to-build.txt",
			Results: "results.jsonl",
		},
		Report: ReportConfig{
			OutDir:      "report",
			DiffDir:     "diff",
			Ext:         "html",
			OnDiffError: "abort",
		},
		Store: StoreConfig{Source: "cas"},
		Diff: DiffConfig{
			Backend: "diffoscope",
			Timeout: 30 * time.Minute,
		},
		Index:   IndexConfig{Backend: "dir"},
		Badge:   DefaultBadgeConfig(),
		Secrets: SecretsConfig{Redact: true},
		JUnit:   JUnitConfig{Output: "r13y.xml"},
		Log:     LogConfig{Format: "text"},
	}
}
