// Package descriptor defines the metadata document that describes a template:
// its identity, variable schemas, file rules, lifecycle hooks and security
// status. Descriptors are read from template.yaml, template.toml or
// template.json at a template root.
package descriptor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultFileNames lists the descriptor file names probed at a template root,
// in priority order.
var DefaultFileNames = []string{"template.yaml", "template.yml", "template.toml", "template.json"}

// DefaultSourceDir is the directory under the template root that holds the
// files to materialize. When it does not exist the root itself is used.
const DefaultSourceDir = "template"

// OriginLocal marks descriptors read from a local directory. Remote
// descriptors carry their source name instead.
const OriginLocal = "local"

// Variable types understood by the schema validator.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// File handling types.
const (
	HandlingAuto     = ""
	HandlingTemplate = "template"
	HandlingCopy     = "copy"
	HandlingSkip     = "skip"
)

// Security scan states.
const (
	SecurityPassed  = "passed"
	SecurityWarning = "warning"
	SecurityFailed  = "failed"
	SecurityPending = "pending"
)

// Descriptor is the parsed template metadata.
type Descriptor struct {
	Name         string         `yaml:"name" toml:"name" json:"name"`
	Version      string         `yaml:"version" toml:"version" json:"version"`
	Description  string         `yaml:"description" toml:"description" json:"description"`
	Author       string         `yaml:"author" toml:"author" json:"author"`
	License      string         `yaml:"license" toml:"license" json:"license"`
	Category     string         `yaml:"category,omitempty" toml:"category,omitempty" json:"category,omitempty"`
	Keywords     []string       `yaml:"keywords,omitempty" toml:"keywords,omitempty" json:"keywords,omitempty"`
	Engine       string         `yaml:"engine,omitempty" toml:"engine,omitempty" json:"engine,omitempty"`
	Dependencies []Dependency   `yaml:"dependencies,omitempty" toml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Variables    []VariableSpec `yaml:"variables,omitempty" toml:"variables,omitempty" json:"variables,omitempty"`
	Files        []FileRule     `yaml:"files,omitempty" toml:"files,omitempty" json:"files,omitempty"`
	Hooks        Hooks          `yaml:"hooks,omitempty" toml:"hooks,omitempty" json:"hooks,omitempty"`
	SourceDir    string         `yaml:"source_dir,omitempty" toml:"source_dir,omitempty" json:"source_dir,omitempty"`
	Repository   string         `yaml:"repository,omitempty" toml:"repository,omitempty" json:"repository,omitempty"`
	Homepage     string         `yaml:"homepage,omitempty" toml:"homepage,omitempty" json:"homepage,omitempty"`
	DownloadURL  string         `yaml:"download_url,omitempty" toml:"download_url,omitempty" json:"download_url,omitempty"`
	CreatedAt    time.Time      `yaml:"created_at,omitempty" toml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt    time.Time      `yaml:"updated_at,omitempty" toml:"updated_at,omitempty" json:"updated_at,omitempty"`
	Downloads    int64          `yaml:"downloads,omitempty" toml:"downloads,omitempty" json:"downloads,omitempty"`
	Rating       float64        `yaml:"rating,omitempty" toml:"rating,omitempty" json:"rating,omitempty"`
	Security     SecurityStatus `yaml:"security,omitempty" toml:"security,omitempty" json:"security,omitempty"`

	// Root is the template root directory for local descriptors.
	Root string `yaml:"-" toml:"-" json:"-"`
	// File is the descriptor file the descriptor was parsed from.
	File string `yaml:"-" toml:"-" json:"-"`
	// Origin is OriginLocal or the name of the remote source.
	Origin string `yaml:"-" toml:"-" json:"-"`
}

// Dependency is a template or tool the template relies on.
type Dependency struct {
	Name     string `yaml:"name" toml:"name" json:"name"`
	Version  string `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`
	Kind     string `yaml:"kind,omitempty" toml:"kind,omitempty" json:"kind,omitempty"`
	Optional bool   `yaml:"optional,omitempty" toml:"optional,omitempty" json:"optional,omitempty"`
}

// VariableSpec declares the schema of one user variable.
type VariableSpec struct {
	Name        string        `yaml:"name" toml:"name" json:"name"`
	Type        string        `yaml:"type,omitempty" toml:"type,omitempty" json:"type,omitempty"`
	Description string        `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	Default     interface{}   `yaml:"default,omitempty" toml:"default,omitempty" json:"default,omitempty"`
	Required    bool          `yaml:"required,omitempty" toml:"required,omitempty" json:"required,omitempty"`
	Pattern     string        `yaml:"pattern,omitempty" toml:"pattern,omitempty" json:"pattern,omitempty"`
	Enum        []interface{} `yaml:"enum,omitempty" toml:"enum,omitempty" json:"enum,omitempty"`
	Secret      bool          `yaml:"secret,omitempty" toml:"secret,omitempty" json:"secret,omitempty"`
}

// FileRule customizes how files matching Source are handled.
type FileRule struct {
	Source      string `yaml:"source" toml:"source" json:"source"`
	Destination string `yaml:"destination,omitempty" toml:"destination,omitempty" json:"destination,omitempty"`
	Type        string `yaml:"type,omitempty" toml:"type,omitempty" json:"type,omitempty"`
	Condition   string `yaml:"condition,omitempty" toml:"condition,omitempty" json:"condition,omitempty"`
	Permissions string `yaml:"permissions,omitempty" toml:"permissions,omitempty" json:"permissions,omitempty"`
}

// Hooks lists shell commands run around generation and installation.
type Hooks struct {
	PreGenerate  []string `yaml:"pre_generate,omitempty" toml:"pre_generate,omitempty" json:"pre_generate,omitempty"`
	PostGenerate []string `yaml:"post_generate,omitempty" toml:"post_generate,omitempty" json:"post_generate,omitempty"`
	PreInstall   []string `yaml:"pre_install,omitempty" toml:"pre_install,omitempty" json:"pre_install,omitempty"`
	PostInstall  []string `yaml:"post_install,omitempty" toml:"post_install,omitempty" json:"post_install,omitempty"`
}

// SecurityStatus is the result of a prior security scan. It is consumed as
// opaque status.
type SecurityStatus struct {
	Status string   `yaml:"status,omitempty" toml:"status,omitempty" json:"status,omitempty"`
	Issues []string `yaml:"issues,omitempty" toml:"issues,omitempty" json:"issues,omitempty"`
	Score  float64  `yaml:"score,omitempty" toml:"score,omitempty" json:"score,omitempty"`
}

// Key identifies a descriptor for de-duplication.
func (d *Descriptor) Key() string {
	return d.Name + "@" + d.Version
}

// SemVer parses the descriptor version.
func (d *Descriptor) SemVer() (*semver.Version, error) {
	return semver.NewVersion(d.Version)
}

// SourcePath returns the directory holding the files to materialize. It is
// empty for descriptors that are not on disk, such as remote index entries.
func (d *Descriptor) SourcePath() string {
	if d.Root == "" {
		return ""
	}
	dir := d.SourceDir
	if dir == "" {
		dir = DefaultSourceDir
	}
	candidate := filepath.Join(d.Root, dir)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate
	}
	return d.Root
}

// Schemas returns the variable specs indexed by name.
func (d *Descriptor) Schemas() map[string]VariableSpec {
	out := make(map[string]VariableSpec, len(d.Variables))
	for _, v := range d.Variables {
		out[v.Name] = v
	}
	return out
}

// Format is a descriptor serialization format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFor picks a format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported descriptor format: %s", path)
	}
}

// Parse decodes data in the given format.
func Parse(data []byte, format Format) (*Descriptor, error) {
	var d Descriptor
	var err error

	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &d)
	case FormatTOML:
		err = toml.Unmarshal(data, &d)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(&d)
	default:
		return nil, fmt.Errorf("unsupported descriptor format: %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s descriptor: %w", format, err)
	}

	return &d, nil
}

// Load reads and parses a descriptor file, recording its root and path.
func Load(path string) (*Descriptor, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	d, err := Parse(data, format)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	d.File = abs
	d.Root = filepath.Dir(abs)
	d.Origin = OriginLocal

	return d, nil
}

// Find returns the first descriptor file present in dir, probing names in
// order. It returns "" when none exists.
func Find(dir string, names []string) string {
	if len(names) == 0 {
		names = DefaultFileNames
	}
	for _, name := range names {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// Marshal encodes a descriptor. Install uses it to write descriptors for
// templates fetched from remote sources.
func Marshal(d *Descriptor, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(d)
	case FormatTOML:
		return toml.Marshal(d)
	case FormatJSON:
		return json.MarshalIndent(d, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported descriptor format: %q", format)
	}
}
