package playbook

import "gopkg.in/yaml.v3"

// decodeScalar interprets a command-line value the way YAML would, falling
// back to the raw string.
func decodeScalar(raw string) any {
	if raw == "" {
		return ""
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}
