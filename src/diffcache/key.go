package diffcache

import (
	"fmt"
	"strings"

	"github.com/sofmeright/r13y/src/cas"
)

// Key identifies one diff: the output hashes of the first and second build,
// in that order. Hashes never contain '-', so the file name is unambiguous.
type Key struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewKey validates both hashes and returns the key.
func NewKey(a, b string) (Key, error) {
	if err := cas.ValidateHash(a); err != nil {
		return Key{}, err
	}
	if err := cas.ValidateHash(b); err != nil {
		return Key{}, err
	}
	return Key{A: a, B: b}, nil
}

func (k Key) String() string { return k.A + "-" + k.B }

// FileName returns the deterministic artifact name "{A}-{B}.{ext}".
func (k Key) FileName(ext string) string {
	return k.String() + "." + ext
}

// ParseFileName recovers a key from an artifact name produced by FileName.
func ParseFileName(name, ext string) (Key, bool) {
	base, ok := strings.CutSuffix(name, "."+ext)
	if !ok {
		return Key{}, false
	}
	a, b, ok := strings.Cut(base, "-")
	if !ok {
		return Key{}, false
	}
	k, err := NewKey(a, b)
	if err != nil {
		return Key{}, false
	}
	return k, true
}

// ComputationError reports a diff that could not be produced, either because
// a hash did not resolve in the source store or because the diff tool failed.
type ComputationError struct {
	Key    Key
	Output string
	Err    error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("diff of %s (%s): %v", e.Output, e.Key, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }
