package definitions

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Interpolate replaces {key} placeholders with values from inputs. Unknown
// placeholders are left as written, and nil values render as None.
func Interpolate(template string, inputs map[string]any) string {
	if len(inputs) == 0 || !strings.Contains(template, "{") {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := inputs[key]
		if !ok {
			return m
		}
		return render(v)
	})
}

func render(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case *string:
		if val == nil {
			return "None"
		}
		return *val
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Placeholders lists the distinct placeholder keys in template, in order of
// first appearance.
func Placeholders(template string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}
