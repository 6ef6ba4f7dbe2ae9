package variables

import (
	"fmt"
	"regexp"

	"github.com/spf13/cast"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Interpolate replaces ${dotted.path} placeholders in s using lookup. A
// placeholder whose path does not resolve is left verbatim. Substituted text
// is not scanned again.
func Interpolate(s string, lookup func(path string) (interface{}, bool)) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := token[2 : len(token)-1]
		value, ok := lookup(path)
		if !ok {
			return token
		}
		return stringify(value)
	})
}

func stringify(v interface{}) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// interpolateValue rewrites every string reachable from v, descending into
// slices and maps. It builds new containers and never mutates v.
func interpolateValue(v interface{}, lookup func(string) (interface{}, bool)) interface{} {
	switch val := v.(type) {
	case string:
		return Interpolate(val, lookup)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = interpolateValue(item, lookup)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = Interpolate(item, lookup)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = interpolateValue(item, lookup)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = Interpolate(item, lookup)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[interface{}]interface{}, len(val))
		for k, item := range val {
			out[k] = interpolateValue(item, lookup)
		}
		return out
	default:
		return v
	}
}

// interpolateContext performs the single interpolation pass over the user and
// computed layers. Lookups read the layers as they were before the pass.
func interpolateContext(c *Context) {
	snapshot := c.namespaces()
	lookup := func(path string) (interface{}, bool) {
		return lookupPath(snapshot, path)
	}

	user := make(map[string]interface{}, len(c.User))
	for k, v := range c.User {
		user[k] = interpolateValue(v, lookup)
	}
	computed := make(map[string]interface{}, len(c.Computed))
	for k, v := range c.Computed {
		computed[k] = interpolateValue(v, lookup)
	}

	c.User = user
	c.Computed = computed
}
