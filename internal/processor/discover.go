package processor

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	"github.com/conneroisu/scaffolder/internal/descriptor"
	"github.com/conneroisu/scaffolder/internal/validation"
	"github.com/conneroisu/scaffolder/internal/variables"
)

type discovered struct {
	abs  string
	rel  string
	rule *descriptor.FileRule
}

// discover walks sourceDir and returns the files that pass the exclusion
// lists, filters, size ceiling and rule conditions. Symlinks are never
// followed.
func (p *Processor) discover(ctx context.Context, sourceDir string, vars map[string]interface{}, opts *Options) ([]discovered, error) {
	excluded := make(map[string]bool)
	for _, dir := range DefaultExcludeDirs {
		excluded[dir] = true
	}
	for _, dir := range opts.ExcludeDirs {
		excluded[dir] = true
	}

	var files []discovered
	err := filepath.WalkDir(sourceDir, func(current string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if current == sourceDir {
				return walkErr
			}
			p.logger.Warn(ctx, walkErr, "Skipping unreadable path", "path", current)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if current != sourceDir && excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, current)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matchesAny(opts.Exclude, rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			p.logger.Warn(ctx, err, "Skipping file without stat", "path", current)
			return nil
		}
		if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
			return nil
		}
		if !passesFilters(opts.Filters, rel, info) {
			return nil
		}

		rule := matchRule(opts.Rules, rel)
		if rule != nil {
			if rule.Type == descriptor.HandlingSkip {
				return nil
			}
			if !conditionHolds(rule.Condition, vars) {
				return nil
			}
		}

		files = append(files, discovered{abs: current, rel: rel, rule: rule})
		return nil
	})

	return files, err
}

func matchesAny(patterns []string, rel string) bool {
	base := path.Base(rel)
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func passesFilters(filters []Filter, rel string, info fs.FileInfo) bool {
	for _, filter := range filters {
		if !filter(rel, info) {
			return false
		}
	}
	return true
}

// matchRule returns the first rule whose source pattern matches rel. A
// pattern ending in "/**" matches everything below that directory.
func matchRule(rules []descriptor.FileRule, rel string) *descriptor.FileRule {
	for i := range rules {
		pattern := rules[i].Source
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if strings.HasPrefix(rel, prefix+"/") {
				return &rules[i]
			}
			continue
		}
		if matchesAny([]string{pattern}, rel) {
			return &rules[i]
		}
	}
	return nil
}

// conditionHolds evaluates a rule condition: a dotted variable path, optionally
// negated with "!". An empty condition always holds; a missing variable is
// false.
func conditionHolds(condition string, vars map[string]interface{}) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}

	negate := strings.HasPrefix(condition, "!")
	condition = strings.TrimSpace(strings.TrimPrefix(condition, "!"))

	value, ok := variables.LookupPath(vars, condition)
	truthy := ok && isTruthy(value)
	return truthy != negate
}

func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case string:
		if b, err := cast.ToBoolE(val); err == nil {
			return b
		}
		return val != ""
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		b, err := cast.ToBoolE(val)
		return err == nil && b
	}
}

// destinationFor computes the destination path of a discovered file.
// Placeholders in the relative path are interpolated, a rule destination
// replaces the path (a trailing slash keeps the base name), and the template
// extension is dropped when requested.
func destinationFor(destDir string, f discovered, vars map[string]interface{}, opts *Options, isTemplate bool) (string, error) {
	lookup := func(p string) (interface{}, bool) { return variables.LookupPath(vars, p) }

	rel := variables.Interpolate(f.rel, lookup)
	if f.rule != nil && f.rule.Destination != "" {
		dest := variables.Interpolate(f.rule.Destination, lookup)
		if strings.HasSuffix(dest, "/") {
			dest += path.Base(rel)
		}
		rel = dest
	}

	if isTemplate && opts.StripTemplateExt {
		if ext := path.Ext(rel); hasExtension(opts.TemplateExtensions, ext) {
			rel = strings.TrimSuffix(rel, ext)
		}
	}

	return validation.SafeJoin(destDir, rel)
}

func hasExtension(exts []string, ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
