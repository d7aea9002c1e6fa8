package badge

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const padding = 10

// renderSVG produces a flat shields.io-style badge.
func (e *Engine) renderSVG(b Badge) string {
	labelWidth := int(math.Round(e.font.TextWidth(b.Label))) + padding
	valueWidth := int(math.Round(e.font.TextWidth(b.Value))) + padding
	totalWidth := labelWidth + valueWidth

	label := xmlEscape(b.Label)
	value := xmlEscape(b.Value)
	family := fmt.Sprintf("'%s',Verdana,Geneva,sans-serif", e.font.family)

	var s strings.Builder
	fmt.Fprintf(&s, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20" role="img" aria-label="%s: %s">`, totalWidth, label, value)
	fmt.Fprintf(&s, `<title>%s: %s</title>`, label, value)

	s.WriteString(`<defs>`)
	if e.embedFont {
		fmt.Fprintf(&s, `<style type="text/css">%s</style>`, fontFaceCSS(e.font.family, e.font.data))
	}
	s.WriteString(`<linearGradient id="b" x2="0" y2="100%"><stop offset="0" stop-color="#bbb" stop-opacity=".1"/><stop offset="1" stop-opacity=".1"/></linearGradient>`)
	s.WriteString(`</defs>`)

	fmt.Fprintf(&s, `<mask id="a"><rect width="%d" height="20" rx="3" fill="#fff"/></mask>`, totalWidth)
	s.WriteString(`<g mask="url(#a)">`)
	fmt.Fprintf(&s, `<rect width="%d" height="20" fill="#555"/>`, labelWidth)
	fmt.Fprintf(&s, `<rect x="%d" width="%d" height="20" fill="%s"/>`, labelWidth, valueWidth, xmlEscape(b.Color))
	fmt.Fprintf(&s, `<rect width="%d" height="20" fill="url(#b)"/>`, totalWidth)
	s.WriteString(`</g>`)

	fmt.Fprintf(&s, `<g fill="#fff" text-anchor="middle" font-family="%s" font-size="%g">`, xmlEscape(family), e.font.size)
	for _, t := range []struct {
		x    int
		text string
	}{{labelWidth / 2, label}, {labelWidth + valueWidth/2, value}} {
		fmt.Fprintf(&s, `<text x="%d" y="15" fill="#010101" fill-opacity=".3">%s</text>`, t.x, t.text)
		fmt.Fprintf(&s, `<text x="%d" y="14">%s</text>`, t.x, t.text)
	}
	s.WriteString(`</g></svg>`)
	return s.String()
}

// fontFaceCSS returns an @font-face rule with the font inlined as base64.
func fontFaceCSS(name string, data []byte) string {
	format := "ttf"
	css := "truetype"
	if len(data) >= 4 && string(data[:4]) == "OTTO" {
		format, css = "otf", "opentype"
	}
	return fmt.Sprintf(`@font-face{font-family:'%s';src:url(data:font/%s;base64,%s) format('%s')}`,
		name, format, base64.StdEncoding.EncodeToString(data), css)
}

var xmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

func xmlEscape(s string) string { return xmlReplacer.Replace(s) }
