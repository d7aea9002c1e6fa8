// Package derivation parses Nix build definitions far enough to map output
// names to their declared store paths.
package derivation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ParseError reports a definition that could not be read or parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing derivation %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Derivation is an immutable parsed build definition.
type Derivation struct {
	path    string
	outputs map[string]string
}

// Path returns the identifier the derivation was parsed from.
func (d *Derivation) Path() string { return d.path }

// Output returns the declared location of the named output.
// A missing output is reported with ok=false, never as an error.
func (d *Derivation) Output(name string) (string, bool) {
	p, ok := d.outputs[name]
	return p, ok
}

// Outputs returns a copy of the output name → path mapping.
func (d *Derivation) Outputs() map[string]string {
	out := make(map[string]string, len(d.outputs))
	for k, v := range d.outputs {
		out[k] = v
	}
	return out
}

// Parser resolves a definition identifier to a parsed derivation.
type Parser interface {
	Parse(id string) (*Derivation, error)
}

// FileParser reads definitions from disk. Root, when set, is prepended to
// every identifier so a relocated store can stand in for /nix/store.
type FileParser struct {
	Root string
}

// Parse reads and parses the definition named by id.
func (p FileParser) Parse(id string) (*Derivation, error) {
	path := id
	if p.Root != "" {
		path = filepath.Join(p.Root, id)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: id, Err: err}
	}
	return Parse(id, data)
}

// Parse decodes either the ATerm .drv encoding or the JSON produced by
// `nix derivation show`.
func Parse(id string, data []byte) (*Derivation, error) {
	trimmed := bytes.TrimSpace(data)
	var (
		outputs map[string]string
		err     error
	)
	switch {
	case bytes.HasPrefix(trimmed, []byte("{")):
		outputs, err = parseJSON(id, trimmed)
	case bytes.HasPrefix(trimmed, []byte("Derive(")):
		outputs, err = parseATerm(trimmed)
	default:
		err = fmt.Errorf("unrecognised format")
	}
	if err != nil {
		return nil, &ParseError{Path: id, Err: err}
	}
	return &Derivation{path: id, outputs: outputs}, nil
}

type jsonDerivation struct {
	Outputs map[string]struct {
		Path string `json:"path"`
	} `json:"outputs"`
}

func parseJSON(id string, data []byte) (map[string]string, error) {
	var doc map[string]jsonDerivation
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var drv jsonDerivation
	switch {
	case len(doc) == 1:
		for _, d := range doc {
			drv = d
		}
	default:
		d, ok := doc[id]
		if !ok {
			d, ok = doc[filepath.Base(id)]
		}
		if !ok {
			return nil, fmt.Errorf("no entry for %s among %d derivations", id, len(doc))
		}
		drv = d
	}

	outputs := make(map[string]string, len(drv.Outputs))
	for name, o := range drv.Outputs {
		outputs[name] = o.Path
	}
	return outputs, nil
}

// parseATerm reads the outputs list of `Derive([("out","/nix/store/…","",""),…],…)`.
// The remaining fields are not interpreted.
func parseATerm(data []byte) (map[string]string, error) {
	s := &scanner{data: data}
	if err := s.expect("Derive("); err != nil {
		return nil, err
	}
	if err := s.expect("["); err != nil {
		return nil, err
	}

	outputs := map[string]string{}
	for {
		if s.peek() == ']' {
			s.pos++
			break
		}
		fields, err := s.tuple()
		if err != nil {
			return nil, err
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("output tuple at offset %d has %d fields, want 4", s.pos, len(fields))
		}
		if _, dup := outputs[fields[0]]; dup {
			return nil, fmt.Errorf("duplicate output %q", fields[0])
		}
		outputs[fields[0]] = fields[1]

		switch s.peek() {
		case ',':
			s.pos++
		case ']':
		default:
			return nil, s.unexpected()
		}
	}
	if err := s.expect(","); err != nil {
		return nil, err
	}
	return outputs, nil
}

type scanner struct {
	data []byte
	pos  int
}

func (s *scanner) peek() byte {
	if s.pos >= len(s.data) {
		return 0
	}
	return s.data[s.pos]
}

func (s *scanner) unexpected() error {
	if s.pos >= len(s.data) {
		return fmt.Errorf("unexpected end of input")
	}
	return fmt.Errorf("unexpected %q at offset %d", s.data[s.pos], s.pos)
}

func (s *scanner) expect(lit string) error {
	if !bytes.HasPrefix(s.data[s.pos:], []byte(lit)) {
		return fmt.Errorf("expected %q at offset %d", lit, s.pos)
	}
	s.pos += len(lit)
	return nil
}

func (s *scanner) tuple() ([]string, error) {
	if err := s.expect("("); err != nil {
		return nil, err
	}
	var fields []string
	for {
		str, err := s.str()
		if err != nil {
			return nil, err
		}
		fields = append(fields, str)
		switch s.peek() {
		case ',':
			s.pos++
		case ')':
			s.pos++
			return fields, nil
		default:
			return nil, s.unexpected()
		}
	}
}

func (s *scanner) str() (string, error) {
	if err := s.expect(`"`); err != nil {
		return "", err
	}
	var b strings.Builder
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '"':
			return b.String(), nil
		case '\\':
			if s.pos >= len(s.data) {
				return "", s.unexpected()
			}
			esc := s.data[s.pos]
			s.pos++
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", fmt.Errorf("unterminated string")
}
