package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/scaffolder/internal/config"
	"github.com/conneroisu/scaffolder/internal/descriptor"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/events"
	"github.com/conneroisu/scaffolder/internal/testutils"
)

// syncBuffer is a bytes.Buffer safe for a writer and a concurrent reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// setupConfig points the global configuration at dirs and resets every
// command flag.
func setupConfig(t *testing.T, dirs ...string) string {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	installDir := filepath.Join(t.TempDir(), "installed")
	viper.Set("catalog.dirs", dirs)
	viper.Set("catalog.install_dir", installDir)
	viper.Set("catalog.watch_delay", 20*time.Millisecond)
	viper.Set("logging.level", "error")

	resetFlags()
	t.Cleanup(resetFlags)
	return installDir
}

func resetFlags() {
	for _, f := range []*StandardFlags{generateFlags, listFlags} {
		f.Version, f.VarsJSON, f.VarsFile, f.Env = "", "", "", ""
		f.Vars = nil
		f.OutputFormat = "table"
		f.Verbose, f.Quiet = false, false
	}
	generateForce, generateDryRun, generateSkipHooks = false, false, false
	generateWorkers, generateEventsAddr = 0, ""
	listLocal, listRemote, listRefresh, listCategories = false, false, false, false
	listCategory = ""
	infoVersion, infoFormat = "", "text"
	installVersion, installDest, installFormat = "", "", "text"
	validateStrict, validateConfigOnly = false, false
	cachePasses, cacheFormat = 1, "table"
	watchVerbose, watchEventsAddr = false, ""
	versionFormat, versionShort = "text", false
}

func newTestCommand(ctx context.Context) (*cobra.Command, *syncBuffer) {
	out := &syncBuffer{}
	c := &cobra.Command{}
	c.SetContext(ctx)
	c.SetOut(out)
	c.SetErr(out)
	return c, out
}

func webTemplate() *testutils.TemplateFixture {
	return testutils.NewTemplate("web", "1.0.0").
		WithVariable(descriptor.VariableSpec{Name: "projectName", Type: descriptor.TypeString, Required: true}).
		WithVariable(descriptor.VariableSpec{Name: "port", Type: descriptor.TypeInteger, Default: 8080}).
		WithMeta("web", "http", "frontend").
		WithFile("README.md.tmpl", "# {{ .projectName }} on {{ .port }}").
		WithFile("static/app.css", "body {}")
}

func TestGenerateCommand(t *testing.T) {
	templates := t.TempDir()
	webTemplate().Write(t, templates)
	setupConfig(t, templates)

	output := filepath.Join(t.TempDir(), "app")
	generateFlags.Vars = []string{"projectName=demo"}

	c, out := newTestCommand(context.Background())
	require.NoError(t, runGenerateCommand(c, []string{"web", output}))

	assert.Contains(t, out.String(), "Generated web@1.0.0 into "+output)
	assert.Contains(t, out.String(), "Files: 2 total, 2 written")
	testutils.AssertFileContent(t, filepath.Join(output, "README.md"), "# demo on 8080")
	testutils.AssertFileContent(t, filepath.Join(output, "static", "app.css"), "body {}")
}

func TestGenerateCommandJSON(t *testing.T) {
	templates := t.TempDir()
	webTemplate().Write(t, templates)
	setupConfig(t, templates)

	output := filepath.Join(t.TempDir(), "app")
	generateFlags.VarsJSON = `{"projectName": "demo", "port": 9000}`
	generateFlags.OutputFormat = "json"
	generateDryRun = true

	c, out := newTestCommand(context.Background())
	require.NoError(t, runGenerateCommand(c, []string{"web", output}))

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out.String()), &result))
	assert.Equal(t, "success", result["status"])
	assert.Equal(t, true, result["dry_run"])
	assert.Equal(t, "1.0.0", result["version"])
	assert.NoDirExists(t, output)
}

func TestGenerateCommandMissingVariable(t *testing.T) {
	templates := t.TempDir()
	webTemplate().Write(t, templates)
	setupConfig(t, templates)

	c, out := newTestCommand(context.Background())
	err := runGenerateCommand(c, []string{"web", filepath.Join(t.TempDir(), "app")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve_variables")
	assert.Contains(t, out.String(), "failed at resolve_variables")
	assert.Contains(t, out.String(), "projectName")
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestGenerateCommandExistingOutput(t *testing.T) {
	templates := t.TempDir()
	webTemplate().Write(t, templates)
	setupConfig(t, templates)

	output := t.TempDir()
	generateFlags.Vars = []string{"projectName=demo"}

	c, _ := newTestCommand(context.Background())
	err := runGenerateCommand(c, []string{"web", output})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prepare_output")

	generateForce = true
	require.NoError(t, runGenerateCommand(c, []string{"web", output}))
	assert.FileExists(t, filepath.Join(output, "README.md"))
}

func TestListCommand(t *testing.T) {
	templates := t.TempDir()
	webTemplate().Write(t, templates)
	testutils.NewTemplate("api", "2.1.0").WithMeta("backend", "grpc").Write(t, templates)
	setupConfig(t, templates)

	c, out := newTestCommand(context.Background())
	require.NoError(t, runList(c, nil))
	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), "web")
	assert.Contains(t, out.String(), "api")

	listFlags.OutputFormat = "json"
	c, out = newTestCommand(context.Background())
	require.NoError(t, runList(c, []string{"GRPC"}))

	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(out.String()), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "api", entries[0].Name)
	assert.Equal(t, descriptor.OriginLocal, entries[0].Origin)
}

func TestListCommandCategoryFilterAndCounts(t *testing.T) {
	templates := t.TempDir()
	webTemplate().Write(t, templates)
	testutils.NewTemplate("api", "2.1.0").WithMeta("backend").Write(t, templates)
	testutils.NewTemplate("plain", "0.1.0").Write(t, templates)
	setupConfig(t, templates)

	listCategory = "backend"
	c, out := newTestCommand(context.Background())
	require.NoError(t, runList(c, nil))
	assert.Contains(t, out.String(), "api")
	assert.NotContains(t, out.String(), "web ")

	listCategory = ""
	listCategories = true
	c, out = newTestCommand(context.Background())
	require.NoError(t, runList(c, nil))
	assert.Contains(t, out.String(), "backend")
	assert.Contains(t, out.String(), "uncategorized")
}

func TestListCommandEmpty(t *testing.T) {
	setupConfig(t, t.TempDir())

	c, out := newTestCommand(context.Background())
	require.NoError(t, runList(c, nil))
	assert.Equal(t, "No templates found.\n", out.String())
}

func TestInfoCommand(t *testing.T) {
	templates := t.TempDir()
	webTemplate().Write(t, templates)
	setupConfig(t, templates)

	c, out := newTestCommand(context.Background())
	require.NoError(t, runInfo(c, []string{"web"}))
	assert.Contains(t, out.String(), "web 1.0.0")
	assert.Contains(t, out.String(), "Variables:")
	assert.Contains(t, out.String(), "projectName")
	assert.Contains(t, out.String(), "8080")

	infoFormat = "yaml"
	c, out = newTestCommand(context.Background())
	require.NoError(t, runInfo(c, []string{"web"}))
	parsed, err := descriptor.Parse([]byte(out.String()), descriptor.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "web", parsed.Name)
	assert.Len(t, parsed.Variables, 2)
}

func TestInfoCommandNotFound(t *testing.T) {
	setupConfig(t, t.TempDir())

	c, _ := newTestCommand(context.Background())
	err := runInfo(c, []string{"missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestInstallCommand(t *testing.T) {
	templates := t.TempDir()
	webTemplate().Write(t, templates)
	installDir := setupConfig(t, templates)

	c, out := newTestCommand(context.Background())
	require.NoError(t, runInstall(c, []string{"web"}))

	dest := filepath.Join(installDir, "web-1.0.0")
	assert.Contains(t, out.String(), "Installed web@1.0.0 from local into "+dest)
	assert.FileExists(t, filepath.Join(dest, "template.yaml"))
	assert.FileExists(t, filepath.Join(dest, "template", "README.md.tmpl"))

	c, out = newTestCommand(context.Background())
	require.NoError(t, runInstall(c, []string{"web"}))
	assert.Contains(t, out.String(), "already installed")
}

func TestValidateCommand(t *testing.T) {
	templates := t.TempDir()
	valid := webTemplate().Write(t, templates)

	warned := testutils.NewTemplate("warned", "1.0.0")
	warned.Descriptor.Security = descriptor.SecurityStatus{Status: descriptor.SecurityWarning, Issues: []string{"outdated"}}
	warnedRoot := warned.Write(t, templates)

	broken := filepath.Join(templates, "broken")
	testutils.WriteFiles(t, broken, map[string]string{"template.yaml": "name: broken\nversion: one\n"})

	setupConfig(t, templates)

	c, out := newTestCommand(context.Background())
	require.NoError(t, runValidateCommand(c, []string{valid, warnedRoot}))
	assert.Contains(t, out.String(), "OK "+filepath.Join(valid, "template.yaml"))
	assert.Contains(t, out.String(), "advisory: security scan reported warnings")

	validateStrict = true
	c, _ = newTestCommand(context.Background())
	require.Error(t, runValidateCommand(c, []string{warnedRoot}))

	validateStrict = false
	c, out = newTestCommand(context.Background())
	err := runValidateCommand(c, []string{broken, t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 templates failed")
	assert.Contains(t, out.String(), "FAIL")
	assert.Contains(t, out.String(), "no template descriptor")
}

func TestValidateCommandConfigOnly(t *testing.T) {
	setupConfig(t, t.TempDir())
	validateConfigOnly = true

	c, out := newTestCommand(context.Background())
	require.NoError(t, runValidateCommand(c, nil))
	assert.NotContains(t, out.String(), "Validation Errors")

	viper.Set("processing.workers", -4)
	c, out = newTestCommand(context.Background())
	require.Error(t, runValidateCommand(c, nil))
	assert.Contains(t, out.String(), "processing.workers")
}

func TestCacheCommands(t *testing.T) {
	templates := t.TempDir()
	webTemplate().Write(t, templates)
	setupConfig(t, templates)

	cachePasses = 3
	cacheFormat = "json"
	c, out := newTestCommand(context.Background())
	require.NoError(t, runCacheStats(c, nil))

	var report cacheReport
	require.NoError(t, json.Unmarshal([]byte(out.String()), &report))
	assert.Equal(t, int64(2), report.CatalogLists.Hits)
	assert.Equal(t, int64(1), report.CatalogLists.Misses)
	assert.Equal(t, 1, report.CatalogFiles.Entries)

	cacheFormat = "table"
	c, out = newTestCommand(context.Background())
	require.NoError(t, runCacheStats(c, nil))
	assert.Contains(t, out.String(), "catalog.lists")
	assert.Contains(t, out.String(), "66.7%")

	cachePasses = 0
	require.Error(t, runCacheStats(c, nil))

	c, out = newTestCommand(context.Background())
	require.NoError(t, runCacheClear(c, nil))
	assert.Equal(t, "Caches cleared, 1 templates rediscovered\n", out.String())
}

func TestWatchCommand(t *testing.T) {
	templates := t.TempDir()
	root := webTemplate().Write(t, templates)
	setupConfig(t, templates)

	ctx, cancel := context.WithCancel(context.Background())
	c, out := newTestCommand(ctx)

	done := make(chan error, 1)
	go func() { done <- runWatch(c, nil) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "1 templates found")
	}, 5*time.Second, 10*time.Millisecond)

	// The watcher registers its directories after the banner is printed.
	time.Sleep(200 * time.Millisecond)

	updated := webTemplate()
	updated.Descriptor.Version = "1.1.0"
	data, err := descriptor.Marshal(updated.Descriptor, descriptor.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "template.yaml"), data, 0o644))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "changed")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Contains(t, out.String(), "Stopped watching.")
}

func TestServeEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Catalog.Dirs = []string{t.TempDir()}
	a, err := newApp(cfg, &bytes.Buffer{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var log bytes.Buffer
	shutdown, err := serveEvents(ctx, a, "127.0.0.1:0", &log)
	require.NoError(t, err)
	defer shutdown()

	url := strings.TrimSpace(strings.TrimPrefix(log.String(), "Streaming events on "))
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return a.bus.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	a.bus.Emit(events.GenerationStarted, map[string]interface{}{"template": "web"})

	var event events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, events.GenerationStarted, event.Name)
	assert.Equal(t, "web", event.Fields["template"])

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"not found", scaffolderrors.ErrTemplateNotFound("web", ""), ExitUsage},
		{"wrapped validation", fmt.Errorf("resolve_variables: %w",
			scaffolderrors.NewValidationError(scaffolderrors.ErrCodeVariableInvalid, "bad")), ExitUsage},
		{"internal", scaffolderrors.NewInternalError(scaffolderrors.ErrCodeInternalError, "boom", nil), ExitFailure},
		{"plain", errors.New("flag provided but not defined"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestVersionCommand(t *testing.T) {
	resetFlags()
	t.Cleanup(resetFlags)

	c, out := newTestCommand(context.Background())
	require.NoError(t, runVersionCommand(c, nil))
	assert.Contains(t, out.String(), "scaffolder ")
	assert.Contains(t, out.String(), "Engine: ")

	versionFormat = "json"
	c, out = newTestCommand(context.Background())
	require.NoError(t, runVersionCommand(c, nil))

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out.String()), &info))
	assert.NotEmpty(t, info["engine_version"])

	versionFormat = "xml"
	require.Error(t, runVersionCommand(c, nil))
}

func TestParseVariables(t *testing.T) {
	dir := t.TempDir()
	yamlFile := filepath.Join(dir, "vars.yaml")
	require.NoError(t, os.WriteFile(yamlFile, []byte("projectName: from-file\nport: 80\nregion: eu\n"), 0o644))
	tomlFile := filepath.Join(dir, "vars.toml")
	require.NoError(t, os.WriteFile(tomlFile, []byte("projectName = 'toml'\n"), 0o644))
	jsonFile := filepath.Join(dir, "vars.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"port": 443}`), 0o644))

	flags := &StandardFlags{
		VarsFile: yamlFile,
		VarsJSON: `{"port": 8080, "debug": true}`,
		Vars:     []string{"projectName=from-flag", "empty="},
	}
	vars, err := flags.ParseVariables()
	require.NoError(t, err)
	assert.Equal(t, "from-flag", vars["projectName"])
	assert.Equal(t, float64(8080), vars["port"])
	assert.Equal(t, "eu", vars["region"])
	assert.Equal(t, true, vars["debug"])
	assert.Equal(t, "", vars["empty"])

	vars, err = (&StandardFlags{VarsFile: tomlFile}).ParseVariables()
	require.NoError(t, err)
	assert.Equal(t, "toml", vars["projectName"])

	vars, err = (&StandardFlags{VarsJSON: "@" + jsonFile}).ParseVariables()
	require.NoError(t, err)
	assert.Equal(t, float64(443), vars["port"])

	_, err = (&StandardFlags{Vars: []string{"novalue"}}).ParseVariables()
	assert.Error(t, err)
	_, err = (&StandardFlags{VarsJSON: "{not json"}).ParseVariables()
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	assert.NoError(t, (&StandardFlags{OutputFormat: "json"}).ValidateFlags())
	assert.Error(t, (&StandardFlags{OutputFormat: "json", Quiet: true, Verbose: true}).ValidateFlags())
	assert.Error(t, (&StandardFlags{VarsFile: "/does/not/exist.yaml"}).ValidateFlags())

	err := ValidateFormatWithSuggestion("jso", []string{"table", "json", "yaml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "json"`)
	assert.NoError(t, ValidateFormatWithSuggestion("YAML", []string{"table", "json", "yaml"}))
}

func TestAddFlagValidation(t *testing.T) {
	c := &cobra.Command{}
	var format string
	c.Flags().StringVar(&format, "format", "table", "")
	AddFlagValidation(c, "format", func(v string) error {
		return ValidateFormatWithSuggestion(v, []string{"table", "json"})
	})

	require.NoError(t, c.Flags().Set("format", "json"))
	assert.Equal(t, "json", format)
	require.Error(t, c.Flags().Set("format", "xml"))
	assert.Equal(t, "json", format)
}

func TestDefaultOutput(t *testing.T) {
	assert.Equal(t, "web", defaultOutput("web"))
	assert.Equal(t, "api", defaultOutput("./templates/api/"))
	assert.Equal(t, "api", defaultOutput("./templates/api/template.toml"))
}

func TestLoadEnvironments(t *testing.T) {
	envs, err := loadEnvironments("")
	require.NoError(t, err)
	assert.Nil(t, envs)

	path := filepath.Join(t.TempDir(), "envs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("staging:\n  apiURL: https://staging.example.com\n"), 0o644))

	envs, err = loadEnvironments(path)
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com", envs["staging"]["apiURL"])

	_, err = loadEnvironments(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewAppFileLogging(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.File = true
	cfg.Logging.Dir = t.TempDir()
	cfg.Hooks.Disabled = true
	cfg.Catalog.Sources = []config.SourceConfig{{Name: "remote", URL: "https://templates.example.com/index.json"}}

	a, err := newApp(cfg, &bytes.Buffer{})
	require.NoError(t, err)
	a.logger.Error(context.Background(), nil, "written to file")
	require.NoError(t, a.Close())

	entries, err := os.ReadDir(cfg.Logging.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(cfg.Logging.Dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
