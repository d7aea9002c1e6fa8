// Package fonts provides the TrueType fonts available to r13y renderers
// without any file on disk.
package fonts

import (
	"fmt"
	"sort"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

// Builtin maps config names to font data.
var Builtin = map[string][]byte{
	"go-regular": goregular.TTF,
	"go-bold":    gobold.TTF,
	"go-mono":    gomono.TTF,
}

// DefaultFont is the config name of the default built-in font.
const DefaultFont = "go-regular"

// Lookup returns the data of a built-in font.
func Lookup(name string) ([]byte, error) {
	data, ok := Builtin[name]
	if !ok {
		return nil, fmt.Errorf("unknown built-in font %q (available: %v)", name, Names())
	}
	return data, nil
}

// Names returns the sorted list of built-in font names.
func Names() []string {
	names := make([]string, 0, len(Builtin))
	for k := range Builtin {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
