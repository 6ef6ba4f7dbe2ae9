package compiler

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"text/template"
)

// Renderable is a compiled template ready to execute.
type Renderable interface {
	Execute(w io.Writer, data interface{}) error
}

// Engine compiles template source into a Renderable. Partials maps include
// names to their source text.
type Engine interface {
	Compile(name, source string, partials map[string]string) (Renderable, error)
	// Helpers returns the function table available to templates.
	Helpers() template.FuncMap
}

// Delimited is implemented by engines with configurable action delimiters.
// The compiler extracts metadata with the same delimiters the engine parses.
type Delimited interface {
	Delims() (left, right string)
}

// TextEngine compiles templates with text/template.
type TextEngine struct {
	funcs      template.FuncMap
	missingKey string
	leftDelim  string
	rightDelim string
}

// TextEngineOption configures a TextEngine.
type TextEngineOption func(*TextEngine)

// WithStrictVariables makes rendering fail on missing map keys instead of
// printing "<no value>".
func WithStrictVariables() TextEngineOption {
	return func(e *TextEngine) { e.missingKey = "error" }
}

// WithDelims overrides the action delimiters.
func WithDelims(left, right string) TextEngineOption {
	return func(e *TextEngine) {
		e.leftDelim = left
		e.rightDelim = right
	}
}

// WithFuncs adds helpers to the default table.
func WithFuncs(funcs template.FuncMap) TextEngineOption {
	return func(e *TextEngine) {
		for name, fn := range funcs {
			e.funcs[name] = fn
		}
	}
}

// NewTextEngine creates a text/template engine with the default helpers.
func NewTextEngine(opts ...TextEngineOption) *TextEngine {
	e := &TextEngine{
		funcs:      DefaultHelpers(),
		missingKey: "default",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Delims implements Delimited.
func (e *TextEngine) Delims() (left, right string) {
	left, right = e.leftDelim, e.rightDelim
	if left == "" {
		left = DefaultLeftDelim
	}
	if right == "" {
		right = DefaultRightDelim
	}
	return left, right
}

// Helpers implements Engine.
func (e *TextEngine) Helpers() template.FuncMap {
	out := make(template.FuncMap, len(e.funcs))
	for k, v := range e.funcs {
		out[k] = v
	}
	return out
}

// Compile implements Engine.
func (e *TextEngine) Compile(name, source string, partials map[string]string) (Renderable, error) {
	root := template.New(filepath.Base(name)).
		Funcs(e.funcs).
		Option("missingkey=" + e.missingKey).
		Delims(e.leftDelim, e.rightDelim)

	if _, err := root.Parse(source); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(partials))
	for partial := range partials {
		names = append(names, partial)
	}
	sort.Strings(names)

	for _, partial := range names {
		if root.Lookup(partial) != nil {
			continue
		}
		if _, err := root.New(partial).Parse(partials[partial]); err != nil {
			return nil, fmt.Errorf("partial %q: %w", partial, err)
		}
	}

	return root, nil
}
