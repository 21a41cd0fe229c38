package schema

import (
	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
)

// ErrInvalid marks documents rejected by Validate.
var ErrInvalid = errors.New("not a valid schema")

// Validate is a lightweight structural check: openapi, info and paths must be
// present, and openapi must be a 3.x version.
func Validate(d *Document) error {
	var missing []string
	for _, key := range []string{"openapi", "info", "paths"} {
		if _, ok := d.raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errors.WithDetailf(errors.Wrapf(ErrInvalid, "missing required fields %v", missing),
			"top-level keys: %v", topLevelKeys(d.raw))
	}

	raw, ok := d.raw["openapi"].(string)
	if !ok {
		return errors.Wrapf(ErrInvalid, "openapi must be a string, got %T", d.raw["openapi"])
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return errors.Wrapf(ErrInvalid, "openapi version %q: %v", raw, err)
	}
	if v.Major() != 3 {
		return errors.WithHint(
			errors.Wrapf(ErrInvalid, "unsupported openapi version %s", raw),
			"Only OpenAPI 3.x documents are supported",
		)
	}

	if _, ok := d.raw["info"].(map[string]any); !ok {
		return errors.Wrap(ErrInvalid, "info must be an object")
	}
	if _, ok := d.raw["paths"].(map[string]any); !ok {
		return errors.Wrap(ErrInvalid, "paths must be an object")
	}
	return nil
}

func topLevelKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
