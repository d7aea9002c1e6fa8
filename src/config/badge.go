package config

// BadgeConfig holds badge generation configuration.
type BadgeConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Label    string  `yaml:"label"`
	Output   string  `yaml:"output" validate:"required_if=Enabled true"` // relative to the report directory
	Font     string  `yaml:"font"`                                       // built-in font name (default: "go-regular")
	FontFile string  `yaml:"font_file"`                                  // path to custom TTF/OTF (overrides Font)
	FontSize float64 `yaml:"font_size" validate:"min=0"`
	Embed    bool    `yaml:"embed_font"` // inline the font into the SVG
}

// DefaultBadgeConfig returns the defaults for badge generation.
func DefaultBadgeConfig() BadgeConfig {
	return BadgeConfig{
		Enabled:  true,
		Label:    "reproducible",
		Output:   "reproducible.svg",
		Font:     "go-regular",
		FontSize: 11,
	}
}
