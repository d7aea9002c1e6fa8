package report

import "strings"

// CrossRef links definitions whose identifier contains Pattern to an
// external issue or pull request.
type CrossRef struct {
	Pattern string `yaml:"pattern" toml:"pattern" json:"pattern"`
	URL     string `yaml:"url" toml:"url" json:"url"`
}

// CrossRefs is an ordered table of cross-references.
type CrossRefs []CrossRef

// DefaultCrossRefs returns the table shipped with the nixos.org deployment.
func DefaultCrossRefs() CrossRefs {
	return CrossRefs{
		{Pattern: "x86_64-linux.iso", URL: "https://github.com/NixOS/nixpkgs/pull/74174"},
		{Pattern: "opensc", URL: "https://github.com/OpenSC/OpenSC/pull/1839"},
		{Pattern: "udisks", URL: "https://github.com/storaged-project/udisks/issues/715"},
		{Pattern: "gnupg", URL: "https://github.com/NixOS/nixpkgs/issues/75687"},
	}
}

// Matches returns the URL of every entry whose pattern occurs in id, in
// table order. An empty pattern never matches.
func (t CrossRefs) Matches(id string) []string {
	var urls []string
	for _, ref := range t {
		if ref.Pattern != "" && strings.Contains(id, ref.Pattern) {
			urls = append(urls, ref.URL)
		}
	}
	return urls
}
