package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toStrictJSON converts the raw config bytes to JSON so one strict decoder
// (DisallowUnknownFields) handles both formats. Files without a .yaml/.yml
// extension are taken to be JSON and pass through untouched. The returned
// format string ("json" or "yaml") is only used for log context.
func toStrictJSON(path string, data []byte) ([]byte, string, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("parse yaml: %w", err)
	}

	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("encode yaml as json: %w", err)
	}
	return out, "yaml", nil
}

// stringifyKeys rewrites decoded YAML maps so every key is a string.
// encoding/json refuses map[any]any, which yaml can produce for nested
// documents.
func stringifyKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = stringifyKeys(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = stringifyKeys(val)
		}
		return t
	}
	return v
}
