package compiler

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/spf13/cast"

	"github.com/conneroisu/scaffolder/internal/textcase"
)

// DefaultHelpers returns the helper table every template can call.
func DefaultHelpers() template.FuncMap {
	return template.FuncMap{
		"kebab":     textcase.Kebab,
		"snake":     textcase.Snake,
		"camel":     textcase.Camel,
		"pascal":    textcase.Pascal,
		"title":     textcase.Title,
		"upper":     textcase.Upper,
		"lower":     textcase.Lower,
		"constant":  textcase.Constant,
		"trim":      strings.TrimSpace,
		"quote":     strconv.Quote,
		"hasPrefix": func(prefix, s string) bool { return strings.HasPrefix(s, prefix) },
		"hasSuffix": func(suffix, s string) bool { return strings.HasSuffix(s, suffix) },
		"contains":  func(sub, s string) bool { return strings.Contains(s, sub) },
		"replace":   func(old, replacement, s string) string { return strings.ReplaceAll(s, old, replacement) },
		"split":     func(sep, s string) []string { return strings.Split(s, sep) },
		"join": func(sep string, items interface{}) (string, error) {
			parts, err := cast.ToStringSliceE(items)
			if err != nil {
				return "", err
			}
			return strings.Join(parts, sep), nil
		},
		"default": func(fallback, value interface{}) interface{} {
			if value == nil {
				return fallback
			}
			if s, ok := value.(string); ok && s == "" {
				return fallback
			}
			return value
		},
		"indent": func(n int, s string) string {
			pad := strings.Repeat(" ", n)
			lines := strings.Split(s, "\n")
			for i, line := range lines {
				if line != "" {
					lines[i] = pad + line
				}
			}
			return strings.Join(lines, "\n")
		},
		"toJSON": func(v interface{}) (string, error) {
			data, err := json.Marshal(v)
			return string(data), err
		},
	}
}

func helperNames(funcs template.FuncMap) []string {
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
