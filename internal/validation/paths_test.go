package validation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTemplateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "web-app", false},
		{"namespaced", "go/service", false},
		{"dotted", "react.ts_v2", false},
		{"empty", "", true},
		{"traversal", "../etc", true},
		{"shell", "web;rm -rf", true},
		{"leading slash", "/abs", true},
		{"trailing slash", "web/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTemplateName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRelativePath(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"src/main.go", false},
		{"a/../b.txt", false},
		{"./x", false},
		{"..", true},
		{"../x", true},
		{"a/../../x", true},
		{"/etc/passwd", true},
		{"", true},
		{"bad\x00name", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateRelativePath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	joined, err := SafeJoin(root, "cmd/app/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "cmd", "app", "main.go"), joined)

	_, err = SafeJoin(root, "../outside")
	assert.Error(t, err)
}

func TestValidateExtensions(t *testing.T) {
	assert.NoError(t, ValidateExtensions([]string{".tmpl", ".tpl"}))
	assert.Error(t, ValidateExtensions([]string{"tmpl"}))
	assert.Error(t, ValidateExtensions([]string{"."}))
	assert.Error(t, ValidateExtensions([]string{".a/b"}))
}

func TestValidateSourceURL(t *testing.T) {
	assert.NoError(t, ValidateSourceURL("https://templates.example.com/index.json?channel=stable&v=2"))
	assert.Error(t, ValidateSourceURL("ftp://example.com"))
	assert.Error(t, ValidateSourceURL("https://"))
	assert.Error(t, ValidateSourceURL("https://example.com/a b"))
}
