package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/sofmeright/r13y/src/report"
)

// linksFile is the shape of a standalone cross-reference file, in either
// YAML or TOML:
//
//	[[links]]
//	pattern = "gnupg"
//	url = "https://github.com/NixOS/nixpkgs/issues/75687"
type linksFile struct {
	Links []LinkConfig `yaml:"links" toml:"links"`
}

func linksFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return ""
	}
}

// LoadLinks reads a cross-reference file, picking the decoder by extension.
func LoadLinks(path string) ([]LinkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f linksFile
	switch linksFormat(path) {
	case "yaml":
		err = yaml.Unmarshal(data, &f)
	case "toml":
		err = toml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("%s: unknown links file format", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i, l := range f.Links {
		if err := validate.Struct(l); err != nil {
			return nil, fmt.Errorf("%s: links[%d]: %w", path, i, err)
		}
	}
	return f.Links, nil
}

// CrossRefs returns the inline links followed by those of links_file. With
// neither configured the default table is used.
func (c *Config) CrossRefs() (report.CrossRefs, error) {
	links := append([]LinkConfig(nil), c.Links...)
	if c.LinksFile != "" {
		more, err := LoadLinks(c.LinksFile)
		if err != nil {
			return nil, err
		}
		links = append(links, more...)
	}
	if len(links) == 0 {
		return report.DefaultCrossRefs(), nil
	}
	refs := make(report.CrossRefs, 0, len(links))
	for _, l := range links {
		refs = append(refs, report.CrossRef{Pattern: l.Pattern, URL: l.URL})
	}
	return refs, nil
}
