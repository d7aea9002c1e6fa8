package outcome

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CurrentVersion is the request tag written by this release.
const CurrentVersion = "V1"

// supportedVersions is the range of request tags this release can read.
var supportedVersions = mustConstraint("^1")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(fmt.Sprintf("outcome: bad version constraint %q: %v", c, err))
	}
	return cs
}

// Request identifies the configuration a build outcome was produced under.
type Request struct {
	Version         string `json:"-"`
	NixpkgsRevision string `json:"nixpkgs_revision"`
}

// NewRequest returns a request tagged with the current version.
func NewRequest(revision string) Request {
	return Request{Version: CurrentVersion, NixpkgsRevision: revision}
}

// Compatible reports whether the request's version tag is readable by this release.
func (r Request) Compatible() bool {
	v, err := parseTag(r.Version)
	if err != nil {
		return false
	}
	return supportedVersions.Check(v)
}

// Equal reports whether two requests describe the same build configuration.
func (r Request) Equal(o Request) bool {
	return r.NixpkgsRevision == o.NixpkgsRevision && r.Version == o.Version
}

func parseTag(tag string) (*semver.Version, error) {
	return semver.NewVersion(strings.TrimPrefix(strings.TrimPrefix(tag, "V"), "v"))
}

type requestBody struct {
	NixpkgsRevision string `json:"nixpkgs_revision"`
}

// MarshalJSON encodes the request as {"V1": {...}}.
func (r Request) MarshalJSON() ([]byte, error) {
	tag := r.Version
	if tag == "" {
		tag = CurrentVersion
	}
	return json.Marshal(map[string]requestBody{tag: {NixpkgsRevision: r.NixpkgsRevision}})
}

// UnmarshalJSON decodes the externally tagged {"V1": {...}} form.
func (r *Request) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("request: want exactly one version tag, got %d", len(tagged))
	}
	for tag, raw := range tagged {
		req := Request{Version: tag}
		if !req.Compatible() {
			return fmt.Errorf("request: unsupported version %q", tag)
		}
		var body requestBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("request %s: %w", tag, err)
		}
		req.NixpkgsRevision = body.NixpkgsRevision
		*r = req
	}
	return nil
}
