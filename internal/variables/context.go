// Package variables builds the layered variable context for one generation
// request: environment, system, user, computed and secret values, with schema
// validation, coercion, transformers and ${dotted.path} interpolation.
package variables

import (
	"strconv"
	"strings"
)

// Namespaces under which the non-secret layers are exposed to templates and
// interpolation.
const (
	NamespaceEnv      = "env"
	NamespaceSystem   = "system"
	NamespaceUser     = "user"
	NamespaceComputed = "computed"
)

// Context is the resolved variable context. It is owned by one request and
// must be treated as read-only once returned from Resolve.
type Context struct {
	Environment map[string]string      `json:"environment"`
	System      map[string]interface{} `json:"system"`
	User        map[string]interface{} `json:"user"`
	Computed    map[string]interface{} `json:"computed"`
	Secret      map[string]string      `json:"-"`

	// Warnings records non-fatal problems such as failing transformers.
	Warnings []string `json:"warnings,omitempty"`
}

func newContext() *Context {
	return &Context{
		Environment: make(map[string]string),
		System:      make(map[string]interface{}),
		User:        make(map[string]interface{}),
		Computed:    make(map[string]interface{}),
		Secret:      make(map[string]string),
	}
}

// Clone returns a copy whose top-level maps can be modified independently.
func (c *Context) Clone() *Context {
	out := newContext()
	for k, v := range c.Environment {
		out.Environment[k] = v
	}
	for k, v := range c.System {
		out.System[k] = v
	}
	for k, v := range c.User {
		out.User[k] = v
	}
	for k, v := range c.Computed {
		out.Computed[k] = v
	}
	for k, v := range c.Secret {
		out.Secret[k] = v
	}
	out.Warnings = append([]string(nil), c.Warnings...)
	return out
}

// namespaces returns the four non-secret layers keyed by namespace.
func (c *Context) namespaces() map[string]interface{} {
	env := make(map[string]interface{}, len(c.Environment))
	for k, v := range c.Environment {
		env[k] = v
	}
	return map[string]interface{}{
		NamespaceEnv:      env,
		NamespaceSystem:   c.System,
		NamespaceUser:     c.User,
		NamespaceComputed: c.Computed,
	}
}

// Flatten returns the render map handed to templates. Layers are merged at
// the top level in increasing precedence (environment, system, computed,
// user) and each layer is also reachable under its namespace key. Namespace
// keys take precedence over same-named top-level variables. Secrets are never
// included.
func (c *Context) Flatten() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Environment)+len(c.System)+len(c.Computed)+len(c.User)+4)
	for k, v := range c.Environment {
		out[k] = v
	}
	for k, v := range c.System {
		out[k] = v
	}
	for k, v := range c.Computed {
		out[k] = v
	}
	for k, v := range c.User {
		out[k] = v
	}
	for k, v := range c.namespaces() {
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted path such as "user.name" against the non-secret
// layers.
func (c *Context) Lookup(path string) (interface{}, bool) {
	return lookupPath(c.namespaces(), path)
}

func lookupPath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	current := root
	for _, segment := range strings.Split(path, ".") {
		next, ok := child(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}

	if current == nil {
		return nil, false
	}
	return current, true
}

func child(v interface{}, key string) (interface{}, bool) {
	switch node := v.(type) {
	case map[string]interface{}:
		val, ok := node[key]
		return val, ok
	case map[string]string:
		val, ok := node[key]
		return val, ok
	case map[interface{}]interface{}:
		val, ok := node[key]
		return val, ok
	case []interface{}:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(node) {
			return nil, false
		}
		return node[i], true
	case []string:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(node) {
			return nil, false
		}
		return node[i], true
	}
	return nil, false
}

// LookupPath resolves a dotted path inside nested maps and slices, such as a
// flattened render map.
func LookupPath(root interface{}, path string) (interface{}, bool) {
	return lookupPath(root, path)
}
