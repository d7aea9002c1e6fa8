package badge

import "fmt"

// Engine renders SVG badges in one font.
type Engine struct {
	font      *Font
	embedFont bool
}

// New creates a badge engine. When embedFont is set the font is inlined into
// every badge so it renders identically everywhere, at the cost of size.
func New(f *Font, embedFont bool) *Engine {
	return &Engine{font: f, embedFont: embedFont}
}

// Badge is the content and appearance of a single badge.
type Badge struct {
	Label string // left side text
	Value string // right side text
	Color string // hex color for right side (e.g. "#4c1")
}

// Generate produces a shields.io-compatible SVG badge.
func (e *Engine) Generate(b Badge) string {
	return e.renderSVG(b)
}

// Colors used by RatioColor.
const (
	ColorGreen  = "#4c1"
	ColorYellow = "#dfb317"
	ColorRed    = "#e05d44"
	ColorGrey   = "#9f9f9f"
)

// RatioColor maps a reproduced ratio to a color. ok=false (nothing was
// checked) yields grey.
func RatioColor(ratio float64, ok bool) string {
	switch {
	case !ok:
		return ColorGrey
	case ratio >= 0.99:
		return ColorGreen
	case ratio >= 0.90:
		return ColorYellow
	default:
		return ColorRed
	}
}

// Reproducibility builds the badge shown next to the report.
func Reproducibility(label, percent string, ratio float64, ok bool) Badge {
	if label == "" {
		label = "reproducible"
	}
	return Badge{Label: label, Value: percent, Color: RatioColor(ratio, ok)}
}

// String is the badge text, for logs.
func (b Badge) String() string {
	return fmt.Sprintf("%s: %s", b.Label, b.Value)
}
