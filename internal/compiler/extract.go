package compiler

import (
	"regexp"
	"sort"
	"strings"
)

// Default action delimiters.
const (
	DefaultLeftDelim  = "{{"
	DefaultRightDelim = "}}"
)

var (
	variablePattern = regexp.MustCompile(`(?:^|[\s(|,])\$?\.([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)`)
	identPattern    = regexp.MustCompile(`(?:^|[\s(|])([A-Za-z_][A-Za-z0-9_]*)`)
	stringLiteral   = regexp.MustCompile("\"(?:[^\"\\\\]|\\\\.)*\"|`[^`]*`")

	defaultExtractor = NewExtractor(DefaultLeftDelim, DefaultRightDelim)
)

// Metadata is the static information extracted from template source.
type Metadata struct {
	Variables []string
	Helpers   []string
	Partials  []string
	Parent    string
}

// Extractor finds actions, partial includes and inheritance markers written
// with one pair of delimiters.
type Extractor struct {
	action  *regexp.Regexp
	partial *regexp.Regexp
	extends *regexp.Regexp
	block   *regexp.Regexp
}

// NewExtractor builds an Extractor for the given delimiters. Empty values
// select the defaults.
func NewExtractor(left, right string) *Extractor {
	if left == "" {
		left = DefaultLeftDelim
	}
	if right == "" {
		right = DefaultRightDelim
	}
	l, r := regexp.QuoteMeta(left), regexp.QuoteMeta(right)
	blockOpen := l + `-?\s*/\*\s*block\s+"([^"]+)"\s*\*/\s*-?` + r
	blockEnd := l + `-?\s*/\*\s*endblock\s*\*/\s*-?` + r

	return &Extractor{
		action:  regexp.MustCompile(`(?s)` + l + `-?(.*?)-?` + r),
		partial: regexp.MustCompile(l + `-?\s*template\s+"([^"]+)"`),
		extends: regexp.MustCompile(l + `-?\s*/\*\s*extends\s+"([^"]+)"\s*\*/\s*-?` + r),
		block:   regexp.MustCompile(`(?s)` + blockOpen + `(.*?)` + blockEnd),
	}
}

// Extract scans source written with the default delimiters.
func Extract(source string, knownHelpers map[string]bool) Metadata {
	return defaultExtractor.Extract(source, knownHelpers)
}

// Extract scans source for variable references, calls to known helpers,
// partial includes and an extends parent. Comments and string literals are
// ignored when looking for variables and helpers.
func (x *Extractor) Extract(source string, knownHelpers map[string]bool) Metadata {
	variables := make(map[string]bool)
	helpers := make(map[string]bool)

	for _, match := range x.action.FindAllStringSubmatch(source, -1) {
		action := strings.TrimSpace(match[1])
		if strings.HasPrefix(action, "/*") {
			continue
		}
		action = stringLiteral.ReplaceAllString(action, `""`)

		for _, v := range variablePattern.FindAllStringSubmatch(action, -1) {
			variables[v[1]] = true
		}
		for _, id := range identPattern.FindAllStringSubmatch(action, -1) {
			if knownHelpers[id[1]] {
				helpers[id[1]] = true
			}
		}
	}

	partials := make(map[string]bool)
	for _, p := range x.partial.FindAllStringSubmatch(source, -1) {
		partials[p[1]] = true
	}

	meta := Metadata{
		Variables: sortedKeys(variables),
		Helpers:   sortedKeys(helpers),
		Partials:  sortedKeys(partials),
	}
	if m := x.extends.FindStringSubmatch(source); m != nil {
		meta.Parent = m[1]
	}
	return meta
}

// blocks returns the named block bodies in source.
func (x *Extractor) blocks(source string) map[string]string {
	out := make(map[string]string)
	for _, m := range x.block.FindAllStringSubmatch(source, -1) {
		out[m[1]] = m[2]
	}
	return out
}

// substituteBlocks replaces the body of every parent block that the child
// also defines. Child blocks with no counterpart are ignored.
func (x *Extractor) substituteBlocks(parent string, child map[string]string) string {
	var b strings.Builder
	last := 0
	for _, idx := range x.block.FindAllStringSubmatchIndex(parent, -1) {
		name := parent[idx[2]:idx[3]]
		body, ok := child[name]
		if !ok {
			continue
		}
		b.WriteString(parent[last:idx[4]])
		b.WriteString(body)
		last = idx[5]
	}
	b.WriteString(parent[last:])
	return b.String()
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
