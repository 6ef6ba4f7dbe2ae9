// Package catalog discovers templates in local directories and remote
// sources, resolves them by name and version, and installs them.
package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/conneroisu/scaffolder/internal/cache"
	"github.com/conneroisu/scaffolder/internal/descriptor"
	"github.com/conneroisu/scaffolder/internal/events"
	"github.com/conneroisu/scaffolder/internal/hooks"
	"github.com/conneroisu/scaffolder/internal/logging"
	"github.com/conneroisu/scaffolder/internal/validation"
)

// DefaultCacheTTL applies when Config.CacheTTL is zero.
const DefaultCacheTTL = 5 * time.Minute

// HookRunner runs lifecycle hooks. *hooks.Runner satisfies it.
type HookRunner interface {
	Run(ctx context.Context, dir string, commands []string, env []string) []hooks.Failure
}

// Config configures a Catalog.
type Config struct {
	// Dirs are scanned in order; earlier directories win duplicates.
	Dirs []string
	// Sources are fetched in order after Dirs.
	Sources []Source
	// FileNames overrides descriptor.DefaultFileNames.
	FileNames []string
	CacheTTL  time.Duration
	// WatchDelay is the debounce window used by Watch.
	WatchDelay time.Duration
	Hooks      HookRunner
	Logger     logging.Logger
	Events     events.Emitter
	Clock      cache.Clock
}

// DiscoverOptions select what Discover returns. The zero value includes both
// local and remote templates.
type DiscoverOptions struct {
	IncludeLocal  bool
	IncludeRemote bool
	// ForceRefresh rebuilds the aggregated list. Per-file parse results are
	// still reused while the descriptor file is unchanged.
	ForceRefresh bool
}

func (o DiscoverOptions) normalize() DiscoverOptions {
	if !o.IncludeLocal && !o.IncludeRemote {
		o.IncludeLocal, o.IncludeRemote = true, true
	}
	return o
}

func (o DiscoverOptions) key() string {
	switch {
	case o.IncludeLocal && o.IncludeRemote:
		return "all"
	case o.IncludeLocal:
		return "local"
	default:
		return "remote"
	}
}

type fileEntry struct {
	desc    *descriptor.Descriptor
	modTime time.Time
}

// Stats reports both catalog caches.
type Stats struct {
	Files cache.Stats `json:"files"`
	Lists cache.Stats `json:"lists"`
}

// Catalog indexes templates. Returned descriptors are shared and must be
// treated as read-only.
type Catalog struct {
	dirs      []string
	sources   []Source
	fileNames []string
	delay     time.Duration
	hooks     HookRunner
	logger    logging.Logger
	events    events.Emitter

	files *cache.Cache[fileEntry]
	lists *cache.Cache[[]*descriptor.Descriptor]
}

// New creates a catalog.
func New(cfg Config) *Catalog {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	names := cfg.FileNames
	if len(names) == 0 {
		names = descriptor.DefaultFileNames
	}

	dirs := make([]string, 0, len(cfg.Dirs))
	for _, dir := range cfg.Dirs {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		dirs = append(dirs, dir)
	}

	return &Catalog{
		dirs:      dirs,
		sources:   cfg.Sources,
		fileNames: names,
		delay:     cfg.WatchDelay,
		hooks:     cfg.Hooks,
		logger:    logging.OrDiscard(cfg.Logger).WithComponent("catalog"),
		events:    events.OrNop(cfg.Events),
		files:     cache.New[fileEntry](cache.Options{TTL: ttl, Clock: cfg.Clock}),
		lists:     cache.New[[]*descriptor.Descriptor](cache.Options{TTL: ttl, Clock: cfg.Clock}),
	}
}

// Dirs returns the configured local directories.
func (c *Catalog) Dirs() []string {
	return append([]string(nil), c.dirs...)
}

// FileNames returns the descriptor file names probed at a template root.
func (c *Catalog) FileNames() []string {
	return append([]string(nil), c.fileNames...)
}

// Discover lists the available templates, local before remote, with
// duplicates of (name, version) removed. Invalid descriptors and failing
// sources are logged and skipped; only cancellation returns an error.
func (c *Catalog) Discover(ctx context.Context, opts DiscoverOptions) ([]*descriptor.Descriptor, error) {
	opts = opts.normalize()
	key := opts.key()

	if !opts.ForceRefresh {
		if list, ok := c.lists.Get(key); ok {
			return append([]*descriptor.Descriptor(nil), list...), nil
		}
	}

	perf := logging.StartOperation(c.logger, "discover")

	var local, remote []*descriptor.Descriptor
	if opts.IncludeLocal {
		local = c.scanLocal(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.IncludeRemote {
		remote = c.fetchRemote(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list := dedupe(local, remote)
	c.lists.Set(key, list)

	perf.End(ctx)
	c.logger.Debug(ctx, "Templates discovered", "local", len(local), "remote", len(remote), "total", len(list))

	return append([]*descriptor.Descriptor(nil), list...), nil
}

// dedupe keeps the first descriptor of each name@version. Local descriptors
// come first so they win over remote ones.
func dedupe(groups ...[]*descriptor.Descriptor) []*descriptor.Descriptor {
	seen := make(map[string]bool)
	var out []*descriptor.Descriptor
	for _, group := range groups {
		for _, d := range group {
			if seen[d.Key()] {
				continue
			}
			seen[d.Key()] = true
			out = append(out, d)
		}
	}
	return out
}

func (c *Catalog) scanLocal(ctx context.Context) []*descriptor.Descriptor {
	var out []*descriptor.Descriptor
	for _, dir := range c.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				c.logger.Warn(ctx, err, "Cannot read template directory", "dir", dir)
			}
			continue
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				return out
			}
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			path := descriptor.Find(filepath.Join(dir, entry.Name()), c.fileNames)
			if path == "" {
				continue
			}
			if d := c.load(ctx, path); d != nil {
				out = append(out, d)
			}
		}
	}
	return out
}

// load parses a descriptor file, reusing the cached result while the file's
// modification time is unchanged.
func (c *Catalog) load(ctx context.Context, path string) *descriptor.Descriptor {
	info, err := os.Stat(path)
	if err != nil {
		c.logger.Warn(ctx, err, "Descriptor vanished", "path", path)
		return nil
	}

	if entry, ok := c.files.Get(path); ok && entry.modTime.Equal(info.ModTime()) {
		return entry.desc
	}

	d, err := descriptor.Load(path)
	if err != nil {
		c.logger.Warn(ctx, err, "Dropping unreadable descriptor", "path", path)
		return nil
	}
	if !c.acceptable(ctx, d, path) {
		return nil
	}

	c.files.Set(path, fileEntry{desc: d, modTime: info.ModTime()})
	return d
}

func (c *Catalog) acceptable(ctx context.Context, d *descriptor.Descriptor, where string) bool {
	if err := descriptor.ValidateSchema(d); err != nil {
		c.logger.Warn(ctx, err, "Dropping invalid descriptor", "path", where)
		return false
	}
	if err := validation.ValidateTemplateName(d.Name); err != nil {
		c.logger.Warn(ctx, err, "Dropping descriptor with invalid name", "path", where)
		return false
	}
	return true
}

func (c *Catalog) fetchRemote(ctx context.Context) []*descriptor.Descriptor {
	var out []*descriptor.Descriptor
	for _, src := range c.sources {
		if ctx.Err() != nil {
			return out
		}
		list, err := src.Fetch(ctx)
		if err != nil {
			c.logger.Warn(ctx, err, "Remote source failed", "source", src.Name())
			continue
		}
		for _, d := range list {
			if d.Origin == "" {
				d.Origin = src.Name()
			}
			if c.acceptable(ctx, d, src.Name()) {
				out = append(out, d)
			}
		}
	}
	return out
}

// Get resolves name and version to a descriptor. An empty version selects
// the highest version; otherwise an exact match wins, then the highest
// version satisfying version as a constraint.
func (c *Catalog) Get(ctx context.Context, name, version string) (*descriptor.Descriptor, bool) {
	all, err := c.Discover(ctx, DiscoverOptions{})
	if err != nil {
		return nil, false
	}

	var candidates []*descriptor.Descriptor
	for _, d := range all {
		if d.Name == name {
			candidates = append(candidates, d)
		}
	}

	d, ok := resolveVersion(candidates, version)
	if ok {
		c.events.Emit(events.TemplateResolved, map[string]interface{}{
			"name":    d.Name,
			"version": d.Version,
			"origin":  d.Origin,
		})
	}
	return d, ok
}

// Search returns the templates selected by opts whose name, description,
// category or keywords contain query, case-insensitively, sorted by name then
// version. An empty query matches everything.
func (c *Catalog) Search(ctx context.Context, query string, opts DiscoverOptions) ([]*descriptor.Descriptor, error) {
	all, err := c.Discover(ctx, opts)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	var out []*descriptor.Descriptor
	for _, d := range all {
		if query == "" || Matches(d, query) {
			out = append(out, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		vi, errI := out[i].SemVer()
		vj, errJ := out[j].SemVer()
		if errI == nil && errJ == nil {
			return vi.LessThan(vj)
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Matches reports whether any searchable field of d contains query. The
// query must already be lower case.
func Matches(d *descriptor.Descriptor, query string) bool {
	fields := append([]string{d.Name, d.Description, d.Category}, d.Keywords...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}

// Categories counts templates per category.
func (c *Catalog) Categories(ctx context.Context) (map[string]int, error) {
	all, err := c.Discover(ctx, DiscoverOptions{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, d := range all {
		category := d.Category
		if category == "" {
			category = "uncategorized"
		}
		out[category]++
	}
	return out, nil
}

// Invalidate drops cached state for a changed descriptor file.
func (c *Catalog) Invalidate(path string) {
	c.files.Delete(path)
	c.lists.Clear()
}

// Clear resets both caches.
func (c *Catalog) Clear() {
	c.files.Clear()
	c.lists.Clear()
}

// Stats returns statistics for both caches.
func (c *Catalog) Stats() Stats {
	return Stats{Files: c.files.Stats(), Lists: c.lists.Stats()}
}
