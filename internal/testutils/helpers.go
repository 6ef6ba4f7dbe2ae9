// Package testutils holds fixture builders shared by package tests.
package testutils

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/scaffolder/internal/descriptor"
)

// CreateTempWorkspace creates a temporary workspace with a templates
// directory and an output directory, returning the workspace root.
func CreateTempWorkspace(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()

	for _, dir := range []string{"templates", "out"} {
		require.NoError(t, os.MkdirAll(filepath.Join(tempDir, dir), 0o755))
	}

	return tempDir
}

// WriteFiles writes files below root, creating parent directories. Keys use
// forward slashes.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// TemplateFixture builds a template directory on disk.
type TemplateFixture struct {
	Descriptor *descriptor.Descriptor
	Files      map[string]string
	DirName    string
	Format     descriptor.Format
}

// NewTemplate starts a fixture with every required descriptor field set.
func NewTemplate(name, version string) *TemplateFixture {
	return &TemplateFixture{
		Descriptor: MinimalDescriptor(name, version),
		Files:      make(map[string]string),
		Format:     descriptor.FormatYAML,
	}
}

// MinimalDescriptor returns a descriptor that passes schema validation.
func MinimalDescriptor(name, version string) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Name:        name,
		Version:     version,
		Description: "The " + name + " template",
		Author:      "Test Author",
		License:     "MIT",
	}
}

// WithVariable declares a variable schema.
func (f *TemplateFixture) WithVariable(spec descriptor.VariableSpec) *TemplateFixture {
	f.Descriptor.Variables = append(f.Descriptor.Variables, spec)
	return f
}

// WithFile adds a file below the template source directory.
func (f *TemplateFixture) WithFile(rel, content string) *TemplateFixture {
	f.Files[rel] = content
	return f
}

// WithRule adds a file rule.
func (f *TemplateFixture) WithRule(rule descriptor.FileRule) *TemplateFixture {
	f.Descriptor.Files = append(f.Descriptor.Files, rule)
	return f
}

// WithHooks sets the lifecycle hooks.
func (f *TemplateFixture) WithHooks(h descriptor.Hooks) *TemplateFixture {
	f.Descriptor.Hooks = h
	return f
}

// WithMeta sets the category and keywords.
func (f *TemplateFixture) WithMeta(category string, keywords ...string) *TemplateFixture {
	f.Descriptor.Category = category
	f.Descriptor.Keywords = keywords
	return f
}

// WithFormat picks the descriptor file format.
func (f *TemplateFixture) WithFormat(format descriptor.Format) *TemplateFixture {
	f.Format = format
	return f
}

// InDir overrides the directory name, which defaults to name-version.
func (f *TemplateFixture) InDir(name string) *TemplateFixture {
	f.DirName = name
	return f
}

// Write creates the template below parent and returns its root. Files go to
// the default source directory.
func (f *TemplateFixture) Write(t *testing.T, parent string) string {
	t.Helper()

	dirName := f.DirName
	if dirName == "" {
		dirName = f.Descriptor.Name + "-" + f.Descriptor.Version
	}
	root := filepath.Join(parent, dirName)
	require.NoError(t, os.MkdirAll(filepath.Join(root, descriptor.DefaultSourceDir), 0o755))

	data, err := descriptor.Marshal(f.Descriptor, f.Format)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "template."+string(f.Format)), data, 0o644))

	WriteFiles(t, filepath.Join(root, descriptor.DefaultSourceDir), f.Files)
	return root
}

// TarGz builds a gzip-compressed tar archive of files, in sorted order.
func TarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		content := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// PathTraversal holds relative paths that must never resolve inside a root.
var PathTraversal = []string{
	"../../../etc/passwd",
	"../outside.txt",
	"a/../../b",
	"/etc/passwd",
	"./../../etc/passwd",
}

// AssertFilePermissions checks a file's permission bits.
func AssertFilePermissions(t *testing.T, path string, expectedMode os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)

	actualMode := info.Mode()
	require.Equal(t, expectedMode, actualMode&os.FileMode(0o777),
		"File %s has incorrect permissions: got %o, want %o",
		path, actualMode&os.FileMode(0o777), expectedMode)
}

// AssertFileContent checks a file's content.
func AssertFileContent(t *testing.T, path, expected string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, expected, string(data), "content of %s", path)
}
