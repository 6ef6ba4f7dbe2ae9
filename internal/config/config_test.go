package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, filepath.Join(DataDir(), "templates"), cfg.Catalog.InstallDir)
	assert.Equal(t, []string{"./templates", cfg.Catalog.InstallDir}, cfg.Catalog.Dirs)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, 200*time.Millisecond, cfg.Catalog.WatchDelay)
	assert.Empty(t, cfg.Catalog.Sources)

	assert.True(t, cfg.Compiler.Inheritance)
	assert.Equal(t, 512, cfg.Compiler.CacheCapacity)

	assert.Equal(t, "SCAFFOLDER_SECRET_", cfg.Variables.SecretPrefix)
	assert.True(t, cfg.Variables.Interpolate)

	assert.Equal(t, int64(10<<20), cfg.Processing.MaxFileSize)
	assert.True(t, cfg.Processing.SkipBinary)
	assert.True(t, cfg.Processing.StripTemplateExt)
	assert.Equal(t, []string{".tmpl", ".tpl", ".gotmpl"}, cfg.Processing.TemplateExtensions)

	assert.Equal(t, "/bin/sh", cfg.Hooks.Shell)
	assert.Equal(t, 5*time.Minute, cfg.Hooks.Timeout)
	assert.Equal(t, "SCAFFOLD_", cfg.Hooks.EnvPrefix)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 14*24*time.Hour, cfg.Logging.Retention)
	assert.Contains(t, cfg.Logging.Redact, "token")
}

func TestInitReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".scaffolder.yml")
	content := `catalog:
  dirs:
    - ` + dir + `
  cache_ttl: 30s
  sources:
    - name: community
      url: https://templates.example.com/index.json
      strip_components: 1
processing:
  workers: 4
  strip_template_ext: false
hooks:
  timeout: 10s
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	used, err := Init(v, path)
	require.NoError(t, err)
	assert.Equal(t, path, used)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, []string{dir}, cfg.Catalog.Dirs)
	assert.Equal(t, 30*time.Second, cfg.Catalog.CacheTTL)
	require.Len(t, cfg.Catalog.Sources, 1)
	assert.Equal(t, SourceConfig{
		Name:            "community",
		URL:             "https://templates.example.com/index.json",
		StripComponents: 1,
	}, cfg.Catalog.Sources[0])
	assert.Equal(t, 4, cfg.Processing.Workers)
	assert.False(t, cfg.Processing.StripTemplateExt)
	assert.True(t, cfg.Processing.SkipBinary, "unset keys keep their defaults")
	assert.Equal(t, 10*time.Second, cfg.Hooks.Timeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestInitMissingDefaultFileIsNotAnError(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Chdir(t.TempDir())

	v := viper.New()
	used, err := Init(v, "")
	require.NoError(t, err)
	assert.Empty(t, used)
}

func TestInitMissingExplicitFile(t *testing.T) {
	v := viper.New()
	_, err := Init(v, filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)

	var se *scaffolderrors.ScaffoldError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, scaffolderrors.ErrorTypeConfig, se.Type)
}

func TestInitConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("processing:\n  workers: 2\n"), 0o644))
	t.Setenv(ConfigFileEnv, path)

	v := viper.New()
	used, err := Init(v, "")
	require.NoError(t, err)
	assert.Equal(t, path, used)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Processing.Workers)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Chdir(t.TempDir())
	t.Setenv("SCAFFOLDER_PROCESSING_WORKERS", "3")
	t.Setenv("SCAFFOLDER_LOGGING_LEVEL", "error")
	t.Setenv("SCAFFOLDER_HOOKS_DISABLED", "true")

	v := viper.New()
	_, err := Init(v, "")
	require.NoError(t, err)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Processing.Workers)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.True(t, cfg.Hooks.Disabled)
}

func TestLoadUsesGlobalViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("processing.workers", 6)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Processing.Workers)
	assert.NotEmpty(t, cfg.Catalog.InstallDir)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("processing.workers", -1)
	v.Set("logging.format", "xml")

	_, err := LoadFrom(v)
	require.Error(t, err)

	violations := scaffolderrors.Violations(err)
	fields := make([]string, 0, len(violations))
	for _, violation := range violations {
		fields = append(fields, violation.Field)
	}
	assert.ElementsMatch(t, []string{"processing.workers", "logging.format"}, fields)
}

func TestLoadDecodeError(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("processing.workers", "many")

	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot decode configuration")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "templates"), expandHome("~/templates"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "./templates", expandHome("./templates"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}
