package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/scaffolder/internal/descriptor"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/events"
	"github.com/conneroisu/scaffolder/internal/hooks"
	"github.com/conneroisu/scaffolder/internal/testutils"
)

type fakeSource struct {
	name        string
	list        []*descriptor.Descriptor
	err         error
	files       map[string]string
	fetches     int
	mu          sync.Mutex
	materialize error
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(context.Context) ([]*descriptor.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*descriptor.Descriptor, len(s.list))
	for i, d := range s.list {
		c := *d
		out[i] = &c
	}
	return out, nil
}

func (s *fakeSource) Materialize(_ context.Context, d *descriptor.Descriptor, dest string) error {
	if s.materialize != nil {
		return s.materialize
	}
	for rel, content := range s.files {
		path := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) Emit(name string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recorder) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func versions(list []*descriptor.Descriptor) []string {
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.Key()
	}
	return out
}

func TestDiscoverLocal(t *testing.T) {
	dir := t.TempDir()
	testutils.NewTemplate("web", "1.0.0").Write(t, dir)
	testutils.NewTemplate("api", "0.3.1").WithFormat(descriptor.FormatTOML).Write(t, dir)
	testutils.NewTemplate("cli", "2.0.0").WithFormat(descriptor.FormatJSON).Write(t, dir)
	testutils.WriteFiles(t, dir, map[string]string{
		"no-descriptor/readme.md": "x",
		"broken/template.yaml":    "name: [unterminated",
		"invalid/template.yaml":   "name: invalid\nversion: 1.0.0\n",
		"loose-file.txt":          "x",
	})

	c := New(Config{Dirs: []string{dir, filepath.Join(dir, "missing")}})
	list, err := c.Discover(context.Background(), DiscoverOptions{IncludeLocal: true})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"web@1.0.0", "api@0.3.1", "cli@2.0.0"}, versions(list))
	for _, d := range list {
		assert.Equal(t, descriptor.OriginLocal, d.Origin)
		assert.NotEmpty(t, d.Root)
	}
}

func TestDiscoverDedupePolicy(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	testutils.NewTemplate("web", "1.0.0").Write(t, first)
	testutils.NewTemplate("web", "1.0.0").Write(t, second)
	testutils.NewTemplate("web", "1.1.0").Write(t, second)

	remoteA := &fakeSource{name: "a", list: []*descriptor.Descriptor{
		testutils.MinimalDescriptor("web", "1.0.0"),
		testutils.MinimalDescriptor("web", "2.0.0"),
	}}
	remoteB := &fakeSource{name: "b", list: []*descriptor.Descriptor{
		testutils.MinimalDescriptor("web", "2.0.0"),
		testutils.MinimalDescriptor("api", "1.0.0"),
	}}

	c := New(Config{Dirs: []string{first, second}, Sources: []Source{remoteA, remoteB}})
	list, err := c.Discover(context.Background(), DiscoverOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{"web@1.0.0", "web@1.1.0", "web@2.0.0", "api@1.0.0"}, versions(list))
	assert.Equal(t, descriptor.OriginLocal, list[0].Origin, "local wins over remote")
	assert.Equal(t, filepath.Join(first, "web-1.0.0"), list[0].Root, "earlier directory wins")
	assert.Equal(t, "a", list[2].Origin, "earlier source wins")
	assert.Equal(t, "b", list[3].Origin)
}

func TestDiscoverSourceFailureIsIsolated(t *testing.T) {
	bad := &fakeSource{name: "bad", err: errors.New("connection refused")}
	good := &fakeSource{name: "good", list: []*descriptor.Descriptor{
		testutils.MinimalDescriptor("api", "1.0.0"),
		{Name: "incomplete", Version: "1.0.0"},
	}}

	c := New(Config{Sources: []Source{bad, good}})
	list, err := c.Discover(context.Background(), DiscoverOptions{IncludeRemote: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"api@1.0.0"}, versions(list))
}

func TestDiscoverCaching(t *testing.T) {
	dir := t.TempDir()
	testutils.NewTemplate("web", "1.0.0").Write(t, dir)
	src := &fakeSource{name: "r", list: []*descriptor.Descriptor{testutils.MinimalDescriptor("api", "1.0.0")}}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	c := New(Config{Dirs: []string{dir}, Sources: []Source{src}, CacheTTL: time.Minute, Clock: clock.Now})
	ctx := context.Background()

	_, err := c.Discover(ctx, DiscoverOptions{})
	require.NoError(t, err)
	_, err = c.Discover(ctx, DiscoverOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, src.fetches, "aggregated list is cached")

	before := c.Stats().Files
	_, err = c.Discover(ctx, DiscoverOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 2, src.fetches, "force refresh rebuilds the list")
	after := c.Stats().Files
	assert.Equal(t, before.Hits+1, after.Hits, "force refresh keeps the per-file cache")

	clock.Advance(2 * time.Minute)
	_, err = c.Discover(ctx, DiscoverOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, src.fetches, "expired list is rebuilt")
}

func TestDiscoverPicksUpEditedDescriptor(t *testing.T) {
	dir := t.TempDir()
	root := testutils.NewTemplate("web", "1.0.0").InDir("web").Write(t, dir)
	c := New(Config{Dirs: []string{dir}})
	ctx := context.Background()

	list, err := c.Discover(ctx, DiscoverOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"web@1.0.0"}, versions(list))

	updated := testutils.MinimalDescriptor("web", "1.1.0")
	data, err := descriptor.Marshal(updated, descriptor.FormatYAML)
	require.NoError(t, err)
	path := filepath.Join(root, "template.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	list, err = c.Discover(ctx, DiscoverOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"web@1.1.0"}, versions(list))
}

func TestDiscoverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{Dirs: []string{t.TempDir()}}).Discover(ctx, DiscoverOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetVersionResolution(t *testing.T) {
	dir := t.TempDir()
	for _, v := range []string{"1.0.0", "1.2.0", "2.0.0"} {
		testutils.NewTemplate("web", v).Write(t, dir)
	}
	rec := &recorder{}
	c := New(Config{Dirs: []string{dir}, Events: rec})
	ctx := context.Background()

	tests := []struct {
		version  string
		expected string
		found    bool
	}{
		{"", "2.0.0", true},
		{"1.0.0", "1.0.0", true},
		{"x", "2.0.0", true},
		{"^1.0.0", "1.2.0", true},
		{"~1.0", "1.0.0", true},
		{">=1.1.0 <2.0.0", "1.2.0", true},
		{"9.9.9", "", false},
		{"not a constraint!", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			d, ok := c.Get(ctx, "web", tt.version)
			require.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.expected, d.Version)
			} else {
				assert.Nil(t, d)
			}
		})
	}

	_, ok := c.Get(ctx, "unknown", "")
	assert.False(t, ok)
	assert.True(t, rec.has(events.TemplateResolved))
}

func TestSearchAndCategories(t *testing.T) {
	dir := t.TempDir()
	testutils.NewTemplate("react-app", "1.0.0").WithMeta("frontend", "react", "spa").Write(t, dir)
	testutils.NewTemplate("go-service", "1.0.0").WithMeta("backend", "grpc").Write(t, dir)
	testutils.NewTemplate("docs", "1.0.0").Write(t, dir)

	c := New(Config{Dirs: []string{dir}})
	ctx := context.Background()

	found, err := c.Search(ctx, "GRPC", DiscoverOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"go-service@1.0.0"}, versions(found))

	found, err = c.Search(ctx, "", DiscoverOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs@1.0.0", "go-service@1.0.0", "react-app@1.0.0"}, versions(found))

	testutils.NewTemplate("docs", "10.0.0").InDir("docs-10").Write(t, dir)
	found, err = c.Search(ctx, "docs", DiscoverOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs@1.0.0", "docs@10.0.0"}, versions(found))

	cats, err := c.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"frontend": 1, "backend": 1, "uncategorized": 1}, cats)
}

func TestInstallLocal(t *testing.T) {
	dir := t.TempDir()
	testutils.NewTemplate("web", "1.0.0").
		WithFile("main.go.tmpl", "package main").
		WithHooks(descriptor.Hooks{PostInstall: []string{"touch installed.marker"}}).
		Write(t, dir)

	rec := &recorder{}
	c := New(Config{Dirs: []string{dir}, Events: rec, Hooks: hooks.NewRunner(nil)})
	dest := filepath.Join(t.TempDir(), "installed", "web")

	result, err := c.Install(context.Background(), "web", "", dest)
	require.NoError(t, err)
	assert.False(t, result.AlreadyInstalled)
	assert.Equal(t, "1.0.0", result.Version)
	assert.Equal(t, dest, result.Descriptor.Root)
	testutils.AssertFileContent(t, filepath.Join(dest, "template", "main.go.tmpl"), "package main")
	assert.True(t, rec.has(events.TemplateInstalled))

	if _, err := os.Stat(hooks.DefaultShell); err == nil {
		assert.Empty(t, result.HookFailures)
		assert.FileExists(t, filepath.Join(dest, "installed.marker"))
	}

	again, err := c.Install(context.Background(), "web", "", dest)
	require.NoError(t, err)
	assert.True(t, again.AlreadyInstalled)
}

// failingRunner fails every command it is given.
type failingRunner struct {
	mu   sync.Mutex
	runs [][]string
}

func (f *failingRunner) Run(_ context.Context, _ string, commands []string, _ []string) []hooks.Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, commands)
	out := make([]hooks.Failure, len(commands))
	for i, command := range commands {
		out[i] = hooks.Failure{Command: command, Error: "exit status 1"}
	}
	return out
}

func TestInstallReportsEveryHookFailure(t *testing.T) {
	dir := t.TempDir()
	testutils.NewTemplate("web", "1.0.0").
		WithHooks(descriptor.Hooks{
			PreInstall:  []string{"check-tools"},
			PostInstall: []string{"npm install"},
		}).
		Write(t, dir)

	runner := &failingRunner{}
	c := New(Config{Dirs: []string{dir}, Hooks: runner})

	result, err := c.Install(context.Background(), "web", "", filepath.Join(t.TempDir(), "web"))
	require.NoError(t, err)
	require.Len(t, result.HookFailures, 2)
	assert.Equal(t, "check-tools", result.HookFailures[0].Command)
	assert.Equal(t, "npm install", result.HookFailures[1].Command)
	assert.Equal(t, [][]string{{"check-tools"}, {"npm install"}}, runner.runs)
}

func TestInstallNotFound(t *testing.T) {
	_, err := New(Config{Dirs: []string{t.TempDir()}}).Install(context.Background(), "nope", "", t.TempDir()+"/x")
	require.Error(t, err)
	assert.True(t, scaffolderrors.IsNotFound(err))
}

func TestInstallRemote(t *testing.T) {
	d := testutils.MinimalDescriptor("api", "1.0.0")
	data, err := descriptor.Marshal(d, descriptor.FormatYAML)
	require.NoError(t, err)

	src := &fakeSource{
		name:  "remote",
		list:  []*descriptor.Descriptor{d},
		files: map[string]string{"template.yaml": string(data), "template/app.txt": "app"},
	}
	c := New(Config{Sources: []Source{src}})
	dest := filepath.Join(t.TempDir(), "api")

	result, err := c.Install(context.Background(), "api", "1.0.0", dest)
	require.NoError(t, err)
	assert.Equal(t, "remote", result.Origin)
	testutils.AssertFileContent(t, filepath.Join(dest, "template", "app.txt"), "app")
}

func TestInstallWithoutDescriptorFails(t *testing.T) {
	src := &fakeSource{
		name:  "remote",
		list:  []*descriptor.Descriptor{testutils.MinimalDescriptor("api", "1.0.0")},
		files: map[string]string{"readme.md": "no descriptor here"},
	}
	c := New(Config{Sources: []Source{src}})
	dest := filepath.Join(t.TempDir(), "api")

	_, err := c.Install(context.Background(), "api", "", dest)
	require.Error(t, err)
	assert.True(t, scaffolderrors.IsInstallation(err))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "failed install is cleaned up")
}

func TestInstallMaterializeFailure(t *testing.T) {
	src := &fakeSource{
		name:        "remote",
		list:        []*descriptor.Descriptor{testutils.MinimalDescriptor("api", "1.0.0")},
		materialize: errors.New("download failed"),
	}
	_, err := New(Config{Sources: []Source{src}}).Install(context.Background(), "api", "", filepath.Join(t.TempDir(), "api"))
	require.Error(t, err)
	assert.True(t, scaffolderrors.IsInstallation(err))
	assert.Contains(t, err.Error(), "download failed")
}

func TestInstallFromHTTPSource(t *testing.T) {
	archive := testutils.TarGz(t, map[string]string{
		"api-1.0.0/template/main.go.tmpl": "package {{ .projectName }}",
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"templates":[{"name":"api","version":"1.0.0","description":"API","author":"A","license":"MIT","download_url":"archives/api-1.0.0.tar.gz"}]}`))
	})
	mux.HandleFunc("/archives/api-1.0.0.tar.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	src, err := NewHTTPSource("hub", server.URL+"/index.json", server.Client(), nil)
	require.NoError(t, err)
	src.StripComponents = 1

	c := New(Config{Sources: []Source{src}})
	dest := filepath.Join(t.TempDir(), "api")

	result, err := c.Install(context.Background(), "api", "^1", dest)
	require.NoError(t, err)
	assert.Equal(t, "hub", result.Origin)
	testutils.AssertFileContent(t, filepath.Join(dest, "template", "main.go.tmpl"), "package {{ .projectName }}")
	assert.FileExists(t, filepath.Join(dest, "template.yaml"), "index entry is written as the descriptor")
}

func TestClearAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	testutils.NewTemplate("web", "1.0.0").Write(t, dir)
	c := New(Config{Dirs: []string{dir}})

	_, err := c.Discover(context.Background(), DiscoverOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().Files.Entries)
	assert.Equal(t, 1, c.Stats().Lists.Entries)

	c.Invalidate(filepath.Join(dir, "web-1.0.0", "template.yaml"))
	assert.Zero(t, c.Stats().Files.Entries)
	assert.Zero(t, c.Stats().Lists.Entries)

	_, err = c.Discover(context.Background(), DiscoverOptions{})
	require.NoError(t, err)
	c.Clear()
	assert.Zero(t, c.Stats().Files.Entries)
	assert.Zero(t, c.Stats().Lists.Entries)
}

func TestWatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	root := testutils.NewTemplate("web", "1.0.0").InDir("web").Write(t, dir)

	bus := events.NewBus(16)
	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	c := New(Config{Dirs: []string{dir}, Events: bus, WatchDelay: 20 * time.Millisecond})
	_, err := c.Discover(context.Background(), DiscoverOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	data, err := descriptor.Marshal(testutils.MinimalDescriptor("web", "1.0.1"), descriptor.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "template.yaml"), data, 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Name == events.CatalogInvalidated {
				assert.Zero(t, c.Stats().Lists.Entries)
				return
			}
		case <-deadline:
			t.Fatal("catalog was not invalidated")
		}
	}
}
