// Package validation holds the input checks shared by the catalog, the batch
// processor and the CLI: template names, relative paths taken from
// descriptors and archives, and remote source URLs.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var templateNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(/[A-Za-z0-9][A-Za-z0-9._-]*)*$`)

// ValidateTemplateName checks a catalog template name. Names may contain
// slash-separated segments (for example "go/service") but never traversal
// segments or shell metacharacters.
func ValidateTemplateName(name string) error {
	if name == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("template name contains path traversal: %s", name)
	}
	if !templateNamePattern.MatchString(name) {
		return fmt.Errorf("template name contains invalid characters: %s", name)
	}
	return nil
}

// ValidateRelativePath checks a path that must stay relative to some root,
// such as a file-rule destination or an archive entry.
func ValidateRelativePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains NUL byte")
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return fmt.Errorf("absolute path not allowed: %s", path)
	}

	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s", path)
	}

	return nil
}

// SafeJoin joins rel onto root and fails when the result would escape root.
func SafeJoin(root, rel string) (string, error) {
	if err := ValidateRelativePath(rel); err != nil {
		return "", err
	}

	joined := filepath.Join(root, filepath.FromSlash(rel))
	within, err := filepath.Rel(root, joined)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes %s: %s", root, rel)
	}

	return joined, nil
}

// ValidateExtensions checks a configured template extension set.
func ValidateExtensions(exts []string) error {
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
		if strings.ContainsAny(ext, `/\ `) {
			return fmt.Errorf("extension %q contains invalid characters", ext)
		}
	}
	return nil
}

// ValidateSourceURL checks the base URL of a remote template source.
func ValidateSourceURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	if strings.ContainsAny(rawURL, " \n\r\t") {
		return fmt.Errorf("URL contains whitespace")
	}

	return nil
}
