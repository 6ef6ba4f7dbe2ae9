package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Template selection flags
	Version string `flag:"version" desc:"Template version or range" default:""`

	// Variable flags
	Vars     []string `flag:"var" desc:"Variable assignment key=value (repeatable)" default:""`
	VarsJSON string   `flag:"vars" desc:"Variables as a JSON object" default:""`
	VarsFile string   `flag:"vars-file,f" desc:"Variables file (JSON, YAML or TOML)" default:""`
	Env      string   `flag:"env,e" desc:"Variable environment to apply" default:""`

	// Output flags
	OutputFormat string `flag:"format,o" desc:"Output format (table|json|yaml)" default:"table"`
	Verbose      bool   `flag:"verbose,v" desc:"Enable verbose output" default:"false"`
	Quiet        bool   `flag:"quiet,q" desc:"Suppress output" default:"false"`
}

// AddStandardFlags adds standard flags to a command
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "template":
			addTemplateFlags(cmd, flags)
		case "variables":
			addVariableFlags(cmd, flags)
		case "output":
			addOutputFlags(cmd, flags)
		}
	}

	return flags
}

func addTemplateFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVar(&flags.Version, "version", "", "Template version or range, e.g. 1.2.0 or ^1 (default: highest)")
}

func addVariableFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringArrayVar(&flags.Vars, "var", nil, "Variable assignment key=value (repeatable)")
	cmd.Flags().StringVar(&flags.VarsJSON, "vars", "", "Variables as a JSON object (or @file.json)")
	cmd.Flags().StringVarP(&flags.VarsFile, "vars-file", "f", "", "Variables file (JSON, YAML or TOML)")
	cmd.Flags().StringVarP(&flags.Env, "env", "e", "", "Variable environment to apply")
}

func addOutputFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "format", "o", "table", "Output format (table|json|yaml)")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress output")
}

// ParseVariables merges variables from the file, the JSON object and the
// key=value assignments, in that order of increasing precedence.
func (f *StandardFlags) ParseVariables() (map[string]interface{}, error) {
	vars := make(map[string]interface{})

	if f.VarsFile != "" {
		fromFile, err := readVariablesFile(f.VarsFile)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			vars[k] = v
		}
	}

	if f.VarsJSON != "" {
		data := []byte(f.VarsJSON)
		source := "--vars"
		// If VarsJSON starts with @, treat as file reference
		if strings.HasPrefix(f.VarsJSON, "@") {
			source = strings.TrimPrefix(f.VarsJSON, "@")
			var err error
			data, err = os.ReadFile(source)
			if err != nil {
				return nil, fmt.Errorf("failed to read variables file %s: %w", source, err)
			}
		}
		var inline map[string]interface{}
		if err := json.Unmarshal(data, &inline); err != nil {
			return nil, fmt.Errorf("invalid JSON in %s: %w", source, err)
		}
		for k, v := range inline {
			vars[k] = v
		}
	}

	for _, assignment := range f.Vars {
		key, value, ok := strings.Cut(assignment, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable assignment %q, expected key=value", assignment)
		}
		vars[key] = value
	}

	return vars, nil
}

func readVariablesFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read variables file %s: %w", path, err)
	}

	vars := make(map[string]interface{})
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &vars)
	case ".toml":
		err = toml.Unmarshal(data, &vars)
	default:
		err = yaml.Unmarshal(data, &vars)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid variables file %s: %w", path, err)
	}
	return vars, nil
}

// ValidateFlags validates flag combinations and values
func (f *StandardFlags) ValidateFlags() error {
	validFormats := []string{"table", "json", "yaml"}
	if f.OutputFormat != "" {
		if err := ValidateFormatWithSuggestion(f.OutputFormat, validFormats); err != nil {
			return err
		}
	}

	// Quiet and verbose are mutually exclusive
	if f.Quiet && f.Verbose {
		return fmt.Errorf("cannot specify both --quiet and --verbose")
	}

	if err := ValidateFileExists(f.VarsFile); err != nil {
		return err
	}

	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	// Store original value setter
	originalSet := flag.Value.Set

	// Create wrapper that validates
	flag.Value = &validatingValue{
		Value:       flag.Value,
		validator:   validator,
		originalSet: originalSet,
	}
}

type validatingValue struct {
	pflag.Value
	validator   func(string) error
	originalSet func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.originalSet(val)
}

// ValidateFormatWithSuggestion rejects unknown formats and names the
// closest supported one.
func ValidateFormatWithSuggestion(format string, valid []string) error {
	lower := strings.ToLower(format)
	for _, v := range valid {
		if lower == v {
			return nil
		}
	}

	for _, v := range valid {
		if strings.HasPrefix(v, lower) || strings.HasPrefix(lower, v) {
			return fmt.Errorf("invalid format %q, did you mean %q? (valid: %s)",
				format, v, strings.Join(valid, ", "))
		}
	}
	return fmt.Errorf("invalid format %q (valid: %s)", format, strings.Join(valid, ", "))
}

// File existence validation helper
func ValidateFileExists(filename string) error {
	if filename == "" {
		return nil // Empty is valid for optional files
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}

	return nil
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
