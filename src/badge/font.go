// Package badge renders the reproducibility percentage as an SVG badge,
// measuring text with real font metrics so the layout matches the glyphs.
package badge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"

	"github.com/sofmeright/r13y/src/fonts"
)

// DefaultFontSize is used when no positive size is configured.
const DefaultFontSize = 11

// Font is a parsed face at one point size. The raw bytes are kept for
// embedding into the badge.
type Font struct {
	family string
	size   float64
	data   []byte

	mu   sync.Mutex // opentype faces are not safe for concurrent use
	face font.Face
}

// TextWidth returns the advance width of s in pixels at 72 DPI.
func (f *Font) TextWidth(s string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return float64(font.MeasureString(f.face, s)) / 64
}

// Size returns the point size the font was measured at.
func (f *Font) Size() float64 { return f.size }

// ParseFont parses TTF or OTF data. The family is read from the name table
// and falls back to name.
func ParseFont(name string, data []byte, size float64) (*Font, error) {
	parsed, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing font %s: %w", name, err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, fmt.Errorf("creating face for %s: %w", name, err)
	}

	family := name
	if n, err := parsed.Name(nil, sfnt.NameIDFamily); err == nil && n != "" {
		family = n
	}
	return &Font{family: family, size: size, data: data, face: face}, nil
}

// Load returns the font at file when one is given and the built-in font
// named builtin otherwise.
func Load(builtin, file string, size float64) (*Font, error) {
	if size <= 0 {
		size = DefaultFontSize
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading font file %s: %w", file, err)
		}
		return ParseFont(strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)), data, size)
	}

	if builtin == "" {
		builtin = fonts.DefaultFont
	}
	data, err := fonts.Lookup(builtin)
	if err != nil {
		return nil, err
	}
	return ParseFont(builtin, data, size)
}
