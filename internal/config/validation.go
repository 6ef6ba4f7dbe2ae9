package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/conneroisu/scaffolder/internal/logging"
	"github.com/conneroisu/scaffolder/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation Errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation Warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateCatalogConfigDetails(&config.Catalog, result)
	validateCompilerConfigDetails(&config.Compiler, result)
	validateVariablesConfigDetails(&config.Variables, result)
	validateProcessingConfigDetails(&config.Processing, result)
	validateHooksConfigDetails(&config.Hooks, result)
	validateLoggingConfigDetails(&config.Logging, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateCatalogConfigDetails(config *CatalogConfig, result *ValidationResult) {
	if len(config.Dirs) == 0 && len(config.Sources) == 0 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "catalog.dirs",
			Message: "no template directories or sources configured",
			Suggestions: []string{
				"Add './templates' to catalog.dirs",
				"Configure a remote index under catalog.sources",
			},
		})
	}

	for _, dir := range config.Dirs {
		if err := validatePath(dir); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "catalog.dirs",
				Value:   dir,
				Message: err.Error(),
				Suggestions: []string{
					"Use a plain directory path without shell metacharacters",
				},
			})
			continue
		}
		if !pathExists(dir) {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   "catalog.dirs",
				Value:   dir,
				Message: fmt.Sprintf("directory '%s' does not exist", dir),
				Suggestions: []string{
					"Create the directory or remove it from catalog.dirs",
					"Run 'scaffolder install' to populate the install directory",
				},
			})
		}
	}

	if config.InstallDir == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "catalog.install_dir",
			Message: "install directory cannot be empty",
			Suggestions: []string{
				"Use the default " + DataDir() + "/templates",
			},
		})
	} else if err := validatePath(config.InstallDir); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "catalog.install_dir",
			Value:   config.InstallDir,
			Message: err.Error(),
		})
	}

	seen := make(map[string]bool, len(config.Sources))
	for i, source := range config.Sources {
		field := fmt.Sprintf("catalog.sources[%d]", i)
		if source.Name == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:       field + ".name",
				Message:     "source name cannot be empty",
				Suggestions: []string{"Name each source, e.g. 'community'"},
			})
		} else if seen[source.Name] {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".name",
				Value:   source.Name,
				Message: fmt.Sprintf("duplicate source name '%s'", source.Name),
			})
		}
		seen[source.Name] = true

		if err := validation.ValidateSourceURL(source.URL); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".url",
				Value:   source.URL,
				Message: err.Error(),
				Suggestions: []string{
					"Use an http or https URL pointing at a JSON or YAML index",
				},
			})
		}
		if source.StripComponents < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".strip_components",
				Value:   source.StripComponents,
				Message: "strip_components cannot be negative",
			})
		}
	}

	if config.CacheTTL < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "catalog.cache_ttl",
			Value:   config.CacheTTL,
			Message: "cache TTL cannot be negative",
		})
	}
	if config.WatchDelay < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "catalog.watch_delay",
			Value:   config.WatchDelay,
			Message: "watch delay cannot be negative",
		})
	}
}

func validateCompilerConfigDetails(config *CompilerConfig, result *ValidationResult) {
	if config.CacheCapacity < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "compiler.cache_capacity",
			Value:   config.CacheCapacity,
			Message: "cache capacity cannot be negative",
			Suggestions: []string{
				"Use 0 for an unbounded cache",
			},
		})
	}

	if (config.LeftDelim == "") != (config.RightDelim == "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "compiler.left_delim",
			Value:   config.LeftDelim + " " + config.RightDelim,
			Message: "left_delim and right_delim must be set together",
			Suggestions: []string{
				"Set both, e.g. '[[' and ']]'",
				"Leave both empty for the default '{{' and '}}'",
			},
		})
	}

	for _, dir := range config.PartialDirs {
		if err := validatePath(dir); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "compiler.partial_dirs",
				Value:   dir,
				Message: err.Error(),
			})
		}
	}
}

func validateVariablesConfigDetails(config *VariablesConfig, result *ValidationResult) {
	if config.CacheCapacity < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "variables.cache_capacity",
			Value:   config.CacheCapacity,
			Message: "cache capacity cannot be negative",
		})
	}

	if config.EnvironmentsFile != "" && !pathExists(config.EnvironmentsFile) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "variables.environments_file",
			Value:   config.EnvironmentsFile,
			Message: fmt.Sprintf("environments file '%s' does not exist", config.EnvironmentsFile),
			Suggestions: []string{
				"Create a YAML file mapping environment names to variables",
			},
		})
	}

	if config.Environment != "" && config.EnvironmentsFile == "" {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "variables.environment",
			Value:   config.Environment,
			Message: "environment selected but no environments file configured",
			Suggestions: []string{
				"Set variables.environments_file",
			},
		})
	}
}

func validateProcessingConfigDetails(config *ProcessingConfig, result *ValidationResult) {
	if config.Workers < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "processing.workers",
			Value:   config.Workers,
			Message: "worker count cannot be negative",
			Suggestions: []string{
				"Use 0 to size the pool from the CPU count",
			},
		})
	}

	if config.MaxFileSize < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "processing.max_file_size",
			Value:   config.MaxFileSize,
			Message: "max file size cannot be negative",
			Suggestions: []string{
				"Use 0 to disable the size ceiling",
			},
		})
	}

	if err := validation.ValidateExtensions(config.TemplateExtensions); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "processing.template_extensions",
			Value:   config.TemplateExtensions,
			Message: err.Error(),
			Suggestions: []string{
				"Extensions start with a dot, e.g. '.tmpl'",
			},
		})
	}
}

func validateHooksConfigDetails(config *HooksConfig, result *ValidationResult) {
	if config.Disabled {
		return
	}

	if config.Shell == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "hooks.shell",
			Message: "hook shell cannot be empty",
			Suggestions: []string{
				"Use '/bin/sh'",
				"Set hooks.disabled to true to skip hooks entirely",
			},
		})
	} else if !pathExists(config.Shell) {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "hooks.shell",
			Value:   config.Shell,
			Message: fmt.Sprintf("shell '%s' not found", config.Shell),
		})
	}

	if config.Timeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "hooks.timeout",
			Value:   config.Timeout,
			Message: "hook timeout cannot be negative",
		})
	}

	if strings.ContainsAny(config.EnvPrefix, "= \t") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "hooks.env_prefix",
			Value:   config.EnvPrefix,
			Message: "environment prefix cannot contain '=' or whitespace",
		})
	}
}

func validateLoggingConfigDetails(config *LoggingConfig, result *ValidationResult) {
	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	if config.Level != "" && !contains(validLevels, strings.ToLower(config.Level)) {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "logging.level",
			Value:   config.Level,
			Message: fmt.Sprintf("unknown log level, using %s", logging.ParseLevel(config.Level)),
			Suggestions: []string{
				"Available levels: debug, info, warn, error",
			},
		})
	}

	validFormats := []string{"text", "json"}
	if config.Format != "" && !contains(validFormats, config.Format) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "logging.format",
			Value:   config.Format,
			Message: fmt.Sprintf("unknown log format '%s'", config.Format),
			Suggestions: []string{
				"Available formats: " + strings.Join(validFormats, ", "),
			},
		})
	}

	if config.File && config.Dir == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "logging.dir",
			Message: "file logging requires a directory",
		})
	}

	if config.Retention < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "logging.retention",
			Value:   config.Retention.String(),
			Message: "retention cannot be negative",
			Suggestions: []string{
				"Use 0 to keep every log file",
			},
		})
	}
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
