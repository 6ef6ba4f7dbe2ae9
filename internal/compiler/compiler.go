// Package compiler turns template files into cached, renderable units. It
// extracts static metadata, resolves extends/block inheritance, delegates
// parsing to an Engine and keeps compiled units in a TTL+LRU cache keyed by
// path and bound variables.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/scaffolder/internal/cache"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/events"
	"github.com/conneroisu/scaffolder/internal/logging"
)

// Reserved render-data keys.
const (
	HelpersKey = "_helpers"
	MetaKey    = "_meta"
)

// Unit is a compiled template plus the metadata derived at compile time.
type Unit struct {
	Path       string
	ModTime    time.Time
	Size       int64
	Variables  []string
	Helpers    []string
	Partials   []string
	Parent     string
	Compiled   Renderable
	CacheKey   string
	CompiledAt time.Time
}

// CompileOptions control one Compile call.
type CompileOptions struct {
	SkipCache bool
	Variables map[string]interface{}
}

// Config configures a Compiler.
type Config struct {
	Engine        Engine
	CacheTTL      time.Duration
	CacheCapacity int
	Inheritance   bool
	// PartialDirs are searched after the including template's directory.
	PartialDirs []string
	// PartialExts are tried when a partial name has no file of its own.
	PartialExts []string
	Logger      logging.Logger
	Events      events.Emitter
	Clock       cache.Clock
}

// Compiler compiles and renders templates. It is safe for concurrent use.
type Compiler struct {
	engine       Engine
	extractor    *Extractor
	cache        *cache.Cache[*Unit]
	inheritance  bool
	partialDirs  []string
	partialExts  []string
	knownHelpers map[string]bool
	logger       logging.Logger
	events       events.Emitter
	now          cache.Clock
}

// New creates a compiler. A nil Engine selects NewTextEngine().
func New(cfg Config) *Compiler {
	engine := cfg.Engine
	if engine == nil {
		engine = NewTextEngine()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	exts := cfg.PartialExts
	if len(exts) == 0 {
		exts = []string{".tmpl", ".tpl", ".gotmpl"}
	}

	extractor := defaultExtractor
	if d, ok := engine.(Delimited); ok {
		extractor = NewExtractor(d.Delims())
	}

	known := make(map[string]bool)
	for _, name := range helperNames(engine.Helpers()) {
		known[name] = true
	}

	return &Compiler{
		engine:    engine,
		extractor: extractor,
		cache: cache.New[*Unit](cache.Options{
			TTL:      cfg.CacheTTL,
			Capacity: cfg.CacheCapacity,
			Clock:    now,
		}),
		inheritance:  cfg.Inheritance,
		partialDirs:  cfg.PartialDirs,
		partialExts:  exts,
		knownHelpers: known,
		logger:       logging.OrDiscard(cfg.Logger).WithComponent("compiler"),
		events:       events.OrNop(cfg.Events),
		now:          now,
	}
}

// Compile returns the compiled unit for path and the bound variables.
func (c *Compiler) Compile(path string, opts CompileOptions) (*Unit, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, scaffolderrors.NewIOError(scaffolderrors.ErrCodeFileRead, "cannot resolve template path", err).WithPath(path)
	}

	key, err := Fingerprint(abs, opts.Variables)
	if err != nil {
		return nil, scaffolderrors.NewCompilationError(abs, fmt.Errorf("variables are not serialisable: %w", err))
	}

	if !opts.SkipCache {
		if unit, ok := c.cache.Get(key); ok {
			c.events.Emit(events.CacheHit, map[string]interface{}{"cache": "compiler", "path": abs})
			return unit, nil
		}
	}
	c.events.Emit(events.CacheMiss, map[string]interface{}{"cache": "compiler", "path": abs})

	info, err := os.Stat(abs)
	if err != nil {
		return nil, scaffolderrors.NewIOError(scaffolderrors.ErrCodeFileRead, "cannot stat template", err).WithPath(abs)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, scaffolderrors.NewIOError(scaffolderrors.ErrCodeFileRead, "cannot read template", err).WithPath(abs)
	}
	source := string(data)
	meta := c.extractor.Extract(source, c.knownHelpers)

	if c.inheritance && meta.Parent != "" {
		source, err = c.resolveInheritance(abs, source, map[string]bool{abs: true})
		if err != nil {
			return nil, scaffolderrors.NewCompilationError(abs, err)
		}
		// Partials introduced by ancestors must be loadable too.
		meta.Partials = c.extractor.Extract(source, c.knownHelpers).Partials
	}

	partials := c.loadPartials(filepath.Dir(abs), meta.Partials)

	compiled, err := c.engine.Compile(abs, source, partials)
	if err != nil {
		return nil, scaffolderrors.NewCompilationError(abs, err)
	}

	unit := &Unit{
		Path:       abs,
		ModTime:    info.ModTime(),
		Size:       info.Size(),
		Variables:  meta.Variables,
		Helpers:    meta.Helpers,
		Partials:   meta.Partials,
		Parent:     meta.Parent,
		Compiled:   compiled,
		CacheKey:   key,
		CompiledAt: c.now(),
	}
	c.cache.Set(key, unit)

	c.logger.Debug(context.Background(), "Template compiled",
		"path", abs,
		"variables", len(unit.Variables),
		"parent", unit.Parent,
	)

	return unit, nil
}

// resolveInheritance substitutes child blocks into the parent chain. visited
// holds every file already on the chain.
func (c *Compiler) resolveInheritance(path, source string, visited map[string]bool) (string, error) {
	parentRef := c.extractor.Extract(source, nil).Parent
	if parentRef == "" {
		return source, nil
	}

	parentPath := parentRef
	if !filepath.IsAbs(parentPath) {
		parentPath = filepath.Join(filepath.Dir(path), parentRef)
	}
	if visited[parentPath] {
		return "", fmt.Errorf("inheritance cycle through %s", parentPath)
	}
	visited[parentPath] = true

	data, err := os.ReadFile(parentPath)
	if err != nil {
		return "", fmt.Errorf("cannot read parent template %q: %w", parentRef, err)
	}

	parent, err := c.resolveInheritance(parentPath, string(data), visited)
	if err != nil {
		return "", err
	}

	return c.extractor.substituteBlocks(parent, c.extractor.blocks(source)), nil
}

// loadPartials reads partial files found next to the template or in the
// configured partial directories. Names that are not found are left to the
// engine, which may find them defined inline.
func (c *Compiler) loadPartials(dir string, names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		if path := c.findPartial(dir, name); path != "" {
			if data, err := os.ReadFile(path); err == nil {
				out[name] = string(data)
			}
		}
	}
	return out
}

func (c *Compiler) findPartial(dir, name string) string {
	dirs := append([]string{dir}, c.partialDirs...)
	for _, d := range dirs {
		candidates := []string{filepath.Join(d, name)}
		for _, ext := range c.partialExts {
			candidates = append(candidates, filepath.Join(d, name+ext))
		}
		for _, candidate := range candidates {
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate
			}
		}
	}
	return ""
}

// Render executes unit. Data is built from base, then variables, then the
// reserved _helpers and _meta keys.
func (c *Compiler) Render(unit *Unit, variables, base map[string]interface{}) (string, error) {
	data := make(map[string]interface{}, len(base)+len(variables)+2)
	for k, v := range base {
		data[k] = v
	}
	for k, v := range variables {
		data[k] = v
	}
	data[HelpersKey] = helperNames(c.engine.Helpers())
	data[MetaKey] = map[string]interface{}{
		"path":       unit.Path,
		"name":       filepath.Base(unit.Path),
		"variables":  unit.Variables,
		"helpers":    unit.Helpers,
		"partials":   unit.Partials,
		"parent":     unit.Parent,
		"compiledAt": unit.CompiledAt,
	}

	var buf bytes.Buffer
	if err := unit.Compiled.Execute(&buf, data); err != nil {
		return "", scaffolderrors.NewRenderError(unit.Path, err)
	}
	return buf.String(), nil
}

// RenderFile compiles path with variables and renders it.
func (c *Compiler) RenderFile(path string, variables map[string]interface{}) (string, error) {
	unit, err := c.Compile(path, CompileOptions{Variables: variables})
	if err != nil {
		return "", err
	}
	return c.Render(unit, variables, nil)
}

// Invalidate drops every cached unit compiled from path.
func (c *Compiler) Invalidate(path string) int {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	prefix := abs + "\x00"
	return c.cache.DeleteFunc(func(key string) bool {
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	})
}

// Clear empties the compile cache and resets its counters.
func (c *Compiler) Clear() {
	c.cache.Clear()
}

// Stats returns compile cache statistics.
func (c *Compiler) Stats() cache.Stats {
	return c.cache.Stats()
}

// Fingerprint derives the cache key for a path and its bound variables. Map
// keys are sorted by encoding/json, so equal variable sets give equal keys.
func Fingerprint(absPath string, variables map[string]interface{}) (string, error) {
	if variables == nil {
		variables = map[string]interface{}{}
	}
	data, err := json.Marshal(variables)
	if err != nil {
		return "", err
	}
	return absPath + "\x00" + string(data), nil
}
