package catalog

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/scaffolder/internal/descriptor"
	"github.com/conneroisu/scaffolder/internal/logging"
	"github.com/conneroisu/scaffolder/internal/validation"
)

// Source is a remote template provider.
type Source interface {
	Name() string
	// Fetch lists the templates the source offers.
	Fetch(ctx context.Context) ([]*descriptor.Descriptor, error)
	// Materialize writes the files of d into dest, which already exists.
	Materialize(ctx context.Context, d *descriptor.Descriptor, dest string) error
}

// Limits applied to HTTP sources.
const (
	DefaultHTTPTimeout = 30 * time.Second
	MaxIndexSize       = 10 << 20
	MaxArchiveSize     = 200 << 20
)

// HTTPSource reads a JSON or YAML index and downloads tar.gz archives.
//
// The index is either a list of descriptors or an object with a "templates"
// list. A relative download_url resolves against the index URL.
type HTTPSource struct {
	name     string
	indexURL *url.URL
	client   *http.Client
	logger   logging.Logger

	// StripComponents drops leading path elements from archive entries, as
	// tar --strip-components does.
	StripComponents int
}

// NewHTTPSource creates a source. A nil client uses one with
// DefaultHTTPTimeout.
func NewHTTPSource(name, indexURL string, client *http.Client, logger logging.Logger) (*HTTPSource, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("source name is required")
	}
	if err := validation.ValidateSourceURL(indexURL); err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	u, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &HTTPSource{
		name:     name,
		indexURL: u,
		client:   client,
		logger:   logging.OrDiscard(logger).WithComponent("source").With("source", name),
	}, nil
}

// Name implements Source.
func (s *HTTPSource) Name() string { return s.name }

type index struct {
	Templates []*descriptor.Descriptor `json:"templates" yaml:"templates"`
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) ([]*descriptor.Descriptor, error) {
	body, err := s.get(ctx, s.indexURL.String(), MaxIndexSize)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	list, err := parseIndex(data)
	if err != nil {
		return nil, err
	}

	for _, d := range list {
		d.Origin = s.name
		if d.DownloadURL == "" {
			continue
		}
		ref, err := url.Parse(d.DownloadURL)
		if err != nil {
			s.logger.Warn(ctx, err, "Ignoring bad download URL", "template", d.Key())
			d.DownloadURL = ""
			continue
		}
		d.DownloadURL = s.indexURL.ResolveReference(ref).String()
	}

	s.logger.Debug(ctx, "Index fetched", "templates", len(list))
	return list, nil
}

func parseIndex(data []byte) ([]*descriptor.Descriptor, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var list []*descriptor.Descriptor
	var wrapped index
	var err error

	switch trimmed[0] {
	case '[':
		err = json.Unmarshal(trimmed, &list)
	case '{':
		err = json.Unmarshal(trimmed, &wrapped)
		list = wrapped.Templates
	default:
		var node yaml.Node
		if err = yaml.Unmarshal(trimmed, &node); err == nil {
			if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
				err = node.Decode(&list)
			} else {
				err = node.Decode(&wrapped)
				list = wrapped.Templates
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}

	out := list[:0]
	for _, d := range list {
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// Materialize implements Source. When the archive carries no descriptor file
// the index entry is written as template.yaml.
func (s *HTTPSource) Materialize(ctx context.Context, d *descriptor.Descriptor, dest string) error {
	if d.DownloadURL == "" {
		return fmt.Errorf("template %s has no download URL", d.Key())
	}
	if err := validation.ValidateSourceURL(d.DownloadURL); err != nil {
		return err
	}

	body, err := s.get(ctx, d.DownloadURL, MaxArchiveSize)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := extractTarGz(body, dest, s.StripComponents); err != nil {
		return fmt.Errorf("failed to extract %s: %w", d.Key(), err)
	}

	if descriptor.Find(dest, nil) != "" {
		return nil
	}
	data, err := descriptor.Marshal(d, descriptor.FormatYAML)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, descriptor.DefaultFileNames[0]), data, 0o644)
}

// get issues a GET and returns a body limited to limit bytes.
func (s *HTTPSource) get(ctx context.Context, rawURL string, limit int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("request %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return &limitedBody{Reader: io.LimitReader(resp.Body, limit+1), closer: resp.Body, limit: limit}, nil
}

type limitedBody struct {
	io.Reader
	closer io.Closer
	limit  int64
	read   int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.Reader.Read(p)
	b.read += int64(n)
	if b.read > b.limit {
		return n, fmt.Errorf("response exceeds %d bytes", b.limit)
	}
	return n, err
}

func (b *limitedBody) Close() error { return b.closer.Close() }

// extractTarGz unpacks regular files and directories below dest. Links and
// special files are ignored; entries escaping dest are rejected.
func extractTarGz(r io.Reader, dest string, strip int) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := stripComponents(path.Clean(strings.TrimPrefix(hdr.Name, "./")), strip)
		if name == "" || name == "." {
			continue
		}
		target, err := validation.SafeJoin(dest, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

func stripComponents(name string, n int) string {
	parts := strings.Split(name, "/")
	if n >= len(parts) {
		return ""
	}
	return strings.Join(parts[n:], "/")
}

func writeEntry(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
