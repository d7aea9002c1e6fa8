package outcome

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind enumerates the reproducibility states of an outcome.
type Kind int

const (
	// Reproducible means both attempts produced bit-identical outputs.
	Reproducible Kind = iota
	// FirstFailed means the first build attempt did not complete.
	FirstFailed
	// SecondFailed means the first attempt succeeded and the second did not.
	SecondFailed
	// Unreproducible means both attempts completed with differing outputs.
	Unreproducible
)

func (k Kind) String() string {
	switch k {
	case Reproducible:
		return "Reproducible"
	case FirstFailed:
		return "FirstFailed"
	case SecondFailed:
		return "SecondFailed"
	case Unreproducible:
		return "Unreproducible"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// HashPair holds the content hashes of one output from the first and second attempt.
type HashPair struct {
	A string
	B string
}

// MarshalJSON encodes the pair as a two element array.
func (p HashPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.A, p.B})
}

// UnmarshalJSON decodes a two element array.
func (p *HashPair) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 2 {
		return fmt.Errorf("hash pair: want 2 hashes, got %d", len(arr))
	}
	p.A, p.B = arr[0], arr[1]
	return nil
}

// Status is the closed set of outcome states. Hashes is only populated for
// Unreproducible and maps each mismatched output to its pair of hashes.
type Status struct {
	Kind   Kind
	Hashes map[string]HashPair
}

// NewUnreproducible builds an Unreproducible status.
func NewUnreproducible(hashes map[string]HashPair) Status {
	return Status{Kind: Unreproducible, Hashes: hashes}
}

// OutputNames returns the mismatched output names in sorted order.
func (s Status) OutputNames() []string {
	names := make([]string, 0, len(s.Hashes))
	for name := range s.Hashes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the invariants of the variant.
func (s Status) Validate() error {
	switch s.Kind {
	case Reproducible, FirstFailed, SecondFailed:
		if len(s.Hashes) != 0 {
			return fmt.Errorf("%s status carries hashes", s.Kind)
		}
	case Unreproducible:
		if len(s.Hashes) == 0 {
			return fmt.Errorf("unreproducible status without outputs")
		}
		for name, p := range s.Hashes {
			if p.A == "" || p.B == "" {
				return fmt.Errorf("output %s: empty hash", name)
			}
			if p.A == p.B {
				return fmt.Errorf("output %s: identical hashes %s", name, p.A)
			}
		}
	default:
		return fmt.Errorf("unknown status kind %d", int(s.Kind))
	}
	return nil
}

// MarshalJSON encodes unit variants as strings and Unreproducible as
// {"Unreproducible": {...}}.
func (s Status) MarshalJSON() ([]byte, error) {
	if s.Kind == Unreproducible {
		return json.Marshal(map[string]map[string]HashPair{"Unreproducible": s.Hashes})
	}
	return json.Marshal(s.Kind.String())
}

// UnmarshalJSON decodes the externally tagged status encoding.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "Reproducible":
			*s = Status{Kind: Reproducible}
		case "FirstFailed":
			*s = Status{Kind: FirstFailed}
		case "SecondFailed":
			*s = Status{Kind: SecondFailed}
		default:
			return fmt.Errorf("status: unknown variant %q", name)
		}
		return nil
	}

	var tagged map[string]map[string]HashPair
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	hashes, ok := tagged["Unreproducible"]
	if !ok || len(tagged) != 1 {
		return fmt.Errorf("status: expected Unreproducible variant")
	}
	*s = NewUnreproducible(hashes)
	return nil
}
