package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/scaffolder/internal/config"
	"github.com/conneroisu/scaffolder/internal/descriptor"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/validation"
	"github.com/conneroisu/scaffolder/internal/version"
)

var validateCmd = &cobra.Command{
	Use:     "validate [path...]",
	Aliases: []string{"v"},
	Short:   "Validate template descriptors",
	Long: `Validate template descriptors: required fields, semantic version,
variable schemas, file rules, dependencies, engine compatibility and the
recorded security scan. Each path is a template directory or a descriptor
file; the default is the current directory.

Examples:
  scaffolder validate                       # Template in the current directory
  scaffolder validate ./templates/web       # One template directory
  scaffolder validate web/template.toml     # One descriptor file
  scaffolder validate --strict ./web        # Advisories fail validation too
  scaffolder validate --config-only         # Check the configuration instead`,
	RunE: runValidateCommand,
}

var (
	validateStrict     bool
	validateConfigOnly bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Treat advisories as failures")
	validateCmd.Flags().BoolVar(&validateConfigOnly, "config-only", false, "Validate the configuration instead of templates")
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if validateConfigOnly {
		return validateConfiguration(out)
	}

	if len(args) == 0 {
		args = []string{"."}
	}

	failed := 0
	for _, path := range args {
		if err := validateTemplatePath(out, path); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d templates failed validation", failed, len(args))
	}
	return nil
}

func validateTemplatePath(w io.Writer, path string) error {
	file := path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		file = descriptor.Find(path, descriptor.DefaultFileNames)
		if file == "" {
			err := fmt.Errorf("no template descriptor in %s", path)
			fmt.Fprintf(w, "FAIL %s: %v\n", path, err)
			return err
		}
	}

	d, err := descriptor.Load(file)
	if err != nil {
		fmt.Fprintf(w, "FAIL %s: %s\n", file, scaffolderrors.FormatError(err))
		return err
	}

	report, err := descriptor.Validate(d)
	if err == nil {
		err = validation.ValidateTemplateName(d.Name)
	}
	if err != nil {
		fmt.Fprintf(w, "FAIL %s (%s): %s\n", file, d.Key(), scaffolderrors.FormatError(err))
		return err
	}

	advisories := report.Advisories
	if ok, engineErr := version.CheckEngine(d.Engine); engineErr != nil {
		advisories = append(advisories, engineErr.Error())
	} else if !ok {
		advisories = append(advisories,
			fmt.Sprintf("template requires engine %s, running %s", d.Engine, version.EngineVersion))
	}

	status := "OK"
	if len(advisories) > 0 && validateStrict {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%s)\n", status, file, d.Key())
	for _, advisory := range advisories {
		fmt.Fprintf(w, "  advisory: %s\n", advisory)
	}

	if status == "FAIL" {
		return fmt.Errorf("%s has %d advisories", d.Key(), len(advisories))
	}
	return nil
}

func validateConfiguration(w io.Writer) error {
	config.SetDefaultsOnce(viper.GetViper())

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}

	result := config.ValidateConfigWithDetails(&cfg)
	if !result.HasErrors() && !result.HasWarnings() {
		fmt.Fprintln(w, "Configuration is valid")
		return nil
	}

	fmt.Fprint(w, result.String())
	if result.HasErrors() {
		return fmt.Errorf("configuration has %d errors", len(result.Errors))
	}
	return nil
}
