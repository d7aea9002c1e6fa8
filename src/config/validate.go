package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a loaded Config after defaults and flags are applied.
// Returns warnings (soft issues) and a hard error if the config is invalid.
func Validate(cfg *Config) (warnings []string, err error) {
	var errs []string

	if verr := validate.Struct(cfg); verr != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(verr, &fieldErrs) {
			return nil, verr
		}
		for _, fe := range fieldErrs {
			errs = append(errs, describe(fe))
		}
	}

	if cfg.LinksFile != "" && linksFormat(cfg.LinksFile) == "" {
		errs = append(errs, fmt.Sprintf("links_file: %q must end in .yml, .yaml or .toml", cfg.LinksFile))
	}

	if !cfg.Secrets.Redact {
		warnings = append(warnings, "secrets.redact is off; diff artifacts are published unscrubbed")
	}
	if cfg.Diff.Backend == "unified" && len(cfg.Diff.Args) > 0 {
		warnings = append(warnings, "diff.args is ignored by the unified backend")
	}
	if cfg.Index.Backend == "dir" && cfg.Index.Path != "" {
		warnings = append(warnings, "index.path is ignored by the dir index")
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return warnings, nil
}

// describe turns a validator failure into "path: message".
func describe(fe validator.FieldError) string {
	// Namespace is "Config.report.out_dir"; drop the root type.
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: is required", path)
	case "required_if":
		return fmt.Sprintf("%s: is required when %s", path, strings.ReplaceAll(fe.Param(), " ", " is "))
	case "oneof":
		return fmt.Sprintf("%s: %q is not one of %s", path, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "eq":
		return fmt.Sprintf("%s: must be %s, got %v", path, fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s: must be at least %s", path, fe.Param())
	case "url":
		return fmt.Sprintf("%s: %q is not a URL", path, fe.Value())
	default:
		return fmt.Sprintf("%s: failed %s check", path, fe.Tag())
	}
}
