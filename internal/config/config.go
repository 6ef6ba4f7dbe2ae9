// Package config provides configuration management for the scaffolder using
// Viper for flexible configuration loading from files, environment variables,
// and command-line flags.
//
// The configuration system supports YAML files, environment variable overrides
// with the SCAFFOLDER_ prefix, defaults rooted in the XDG base directories, and
// validation with suggestions. It configures template discovery, compilation,
// variable resolution, file processing, lifecycle hooks and logging.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
)

const (
	// AppName names the XDG subdirectories and the config file.
	AppName = "scaffolder"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SCAFFOLDER"
	// ConfigFileEnv names a config file explicitly.
	ConfigFileEnv = "SCAFFOLDER_CONFIG_FILE"
	// ConfigName is the default config file name without extension.
	ConfigName = ".scaffolder"
)

type Config struct {
	Catalog    CatalogConfig    `mapstructure:"catalog" yaml:"catalog"`
	Compiler   CompilerConfig   `mapstructure:"compiler" yaml:"compiler"`
	Variables  VariablesConfig  `mapstructure:"variables" yaml:"variables"`
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing"`
	Hooks      HooksConfig      `mapstructure:"hooks" yaml:"hooks"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

type CatalogConfig struct {
	// Dirs are scanned in order; earlier directories win duplicates.
	Dirs       []string       `mapstructure:"dirs" yaml:"dirs"`
	InstallDir string         `mapstructure:"install_dir" yaml:"install_dir"`
	Sources    []SourceConfig `mapstructure:"sources" yaml:"sources"`
	FileNames  []string       `mapstructure:"file_names" yaml:"file_names"`
	CacheTTL   time.Duration  `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	WatchDelay time.Duration  `mapstructure:"watch_delay" yaml:"watch_delay"`
}

// SourceConfig describes one remote HTTP index.
type SourceConfig struct {
	Name            string        `mapstructure:"name" yaml:"name"`
	URL             string        `mapstructure:"url" yaml:"url"`
	StripComponents int           `mapstructure:"strip_components" yaml:"strip_components"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type CompilerConfig struct {
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	CacheCapacity int           `mapstructure:"cache_capacity" yaml:"cache_capacity"`
	Inheritance   bool          `mapstructure:"inheritance" yaml:"inheritance"`
	Strict        bool          `mapstructure:"strict" yaml:"strict"`
	PartialDirs   []string      `mapstructure:"partial_dirs" yaml:"partial_dirs"`
	LeftDelim     string        `mapstructure:"left_delim" yaml:"left_delim"`
	RightDelim    string        `mapstructure:"right_delim" yaml:"right_delim"`
}

type VariablesConfig struct {
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	CacheCapacity int           `mapstructure:"cache_capacity" yaml:"cache_capacity"`
	Environment   string        `mapstructure:"environment" yaml:"environment"`
	// EnvironmentsFile maps environment names to variable sets. It is read
	// with case-sensitive keys, which Viper itself cannot offer.
	EnvironmentsFile string `mapstructure:"environments_file" yaml:"environments_file"`
	SecretPrefix     string `mapstructure:"secret_prefix" yaml:"secret_prefix"`
	SkipEnv          bool   `mapstructure:"skip_env" yaml:"skip_env"`
	SkipSystem       bool   `mapstructure:"skip_system" yaml:"skip_system"`
	Interpolate      bool   `mapstructure:"interpolate" yaml:"interpolate"`
}

type ProcessingConfig struct {
	Workers             int      `mapstructure:"workers" yaml:"workers"`
	MaxFileSize         int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	PreservePermissions bool     `mapstructure:"preserve_permissions" yaml:"preserve_permissions"`
	SkipBinary          bool     `mapstructure:"skip_binary" yaml:"skip_binary"`
	TemplateExtensions  []string `mapstructure:"template_extensions" yaml:"template_extensions"`
	StripTemplateExt    bool     `mapstructure:"strip_template_ext" yaml:"strip_template_ext"`
	Exclude             []string `mapstructure:"exclude" yaml:"exclude"`
	ExcludeDirs         []string `mapstructure:"exclude_dirs" yaml:"exclude_dirs"`
}

type HooksConfig struct {
	Disabled  bool          `mapstructure:"disabled" yaml:"disabled"`
	Shell     string        `mapstructure:"shell" yaml:"shell"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	EnvPrefix string        `mapstructure:"env_prefix" yaml:"env_prefix"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// File additionally writes JSON records to a dated file under Dir.
	File bool   `mapstructure:"file" yaml:"file"`
	Dir  string `mapstructure:"dir" yaml:"dir"`
	// Retention removes dated files older than this; zero keeps them.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
	// Redact names record fields whose values are masked.
	Redact []string `mapstructure:"redact" yaml:"redact"`
}

// DataDir is the per-user directory for installed templates.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// ConfigDir is the per-user directory searched for the config file.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// StateDir holds log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// SetDefaults registers every key, which also makes each one overridable
// from the environment.
func SetDefaults(v *viper.Viper) {
	installDir := filepath.Join(DataDir(), "templates")

	v.SetDefault("catalog.dirs", []string{"./templates", installDir})
	v.SetDefault("catalog.install_dir", installDir)
	v.SetDefault("catalog.sources", []SourceConfig{})
	v.SetDefault("catalog.file_names", []string{"template.yaml", "template.yml", "template.toml", "template.json"})
	v.SetDefault("catalog.cache_ttl", 5*time.Minute)
	v.SetDefault("catalog.watch_delay", 200*time.Millisecond)

	v.SetDefault("compiler.cache_ttl", 10*time.Minute)
	v.SetDefault("compiler.cache_capacity", 512)
	v.SetDefault("compiler.inheritance", true)
	v.SetDefault("compiler.strict", false)
	v.SetDefault("compiler.partial_dirs", []string{})
	v.SetDefault("compiler.left_delim", "")
	v.SetDefault("compiler.right_delim", "")

	v.SetDefault("variables.cache_ttl", time.Minute)
	v.SetDefault("variables.cache_capacity", 128)
	v.SetDefault("variables.environment", "")
	v.SetDefault("variables.environments_file", "")
	v.SetDefault("variables.secret_prefix", EnvPrefix+"_SECRET_")
	v.SetDefault("variables.skip_env", false)
	v.SetDefault("variables.skip_system", false)
	v.SetDefault("variables.interpolate", true)

	v.SetDefault("processing.workers", 0)
	v.SetDefault("processing.max_file_size", int64(10<<20))
	v.SetDefault("processing.preserve_permissions", true)
	v.SetDefault("processing.skip_binary", true)
	v.SetDefault("processing.template_extensions", []string{".tmpl", ".tpl", ".gotmpl"})
	v.SetDefault("processing.strip_template_ext", true)
	v.SetDefault("processing.exclude", []string{".DS_Store", "*.swp", "*~"})
	v.SetDefault("processing.exclude_dirs", []string{".git", ".hg", ".svn", "node_modules"})

	v.SetDefault("hooks.disabled", false)
	v.SetDefault("hooks.shell", "/bin/sh")
	v.SetDefault("hooks.timeout", 5*time.Minute)
	v.SetDefault("hooks.env_prefix", "SCAFFOLD_")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.dir", filepath.Join(StateDir(), "logs"))
	v.SetDefault("logging.retention", 14*24*time.Hour)
	v.SetDefault("logging.redact", []string{"token", "password", "secret", "authorization"})
}

// Init points v at the config file and enables environment overrides.
// Priority for the file: explicit path, SCAFFOLDER_CONFIG_FILE, then
// .scaffolder.yml in the working directory or the XDG config directory.
// A missing default file is not an error. It returns the file used, if any.
func Init(v *viper.Viper, cfgFile string) (string, error) {
	SetDefaults(v)

	explicit := cfgFile
	if explicit == "" {
		explicit = os.Getenv(ConfigFileEnv)
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
		v.SetConfigType("yaml")
		v.SetConfigName(ConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", scaffolderrors.WrapConfig(err, scaffolderrors.ErrCodeConfigInvalid, "cannot read config file")
	}
	return v.ConfigFileUsed(), nil
}

// Load decodes the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaultsOnce(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, scaffolderrors.WrapConfig(err, scaffolderrors.ErrCodeConfigInvalid, "cannot decode configuration")
	}

	config.Catalog.Dirs = expandAll(config.Catalog.Dirs)
	config.Catalog.InstallDir = expandHome(config.Catalog.InstallDir)
	config.Compiler.PartialDirs = expandAll(config.Compiler.PartialDirs)
	config.Variables.EnvironmentsFile = expandHome(config.Variables.EnvironmentsFile)
	config.Logging.Dir = expandHome(config.Logging.Dir)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// SetDefaultsOnce registers defaults unless v already has them.
func SetDefaultsOnce(v *viper.Viper) {
	if !v.IsSet("catalog.cache_ttl") {
		SetDefaults(v)
	}
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadFrom(v)
	if err != nil {
		panic("default configuration is invalid: " + err.Error())
	}
	return cfg
}

// validateConfig rejects configurations that fail detailed validation.
func validateConfig(config *Config) error {
	result := ValidateConfigWithDetails(config)
	if !result.HasErrors() {
		return nil
	}

	violations := make([]scaffolderrors.Violation, 0, len(result.Errors))
	for _, e := range result.Errors {
		violations = append(violations, scaffolderrors.Violation{Field: e.Field, Rule: "config", Message: e.Message})
	}
	se := scaffolderrors.NewConfigError(scaffolderrors.ErrCodeConfigInvalid, "invalid configuration")
	se.Violations = violations
	return se
}

func expandAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, expandHome(p))
	}
	return out
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
