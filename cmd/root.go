// Package cmd provides the command-line interface for the scaffolder with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	The CLI supports flexible configuration through multiple sources with clear precedence:
//	1. Command-line flags (--config, --templates, --log-level) - highest priority
//	2. SCAFFOLDER_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (SCAFFOLDER_PROCESSING_WORKERS, etc.)
//	4. Configuration files (.scaffolder.yml here or in the XDG config dir) - lowest priority
//
// Environment Variables:
//
//	SCAFFOLDER_CONFIG_FILE: Path to custom configuration file
//	SCAFFOLDER_CATALOG_INSTALL_DIR: Where installed templates go
//	SCAFFOLDER_LOGGING_LEVEL: Log level
//	And many more following the SCAFFOLDER_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/scaffolder/internal/config"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scaffolder",
	Short: "Generate projects from versioned templates",
	Long: `Scaffolder discovers versioned project templates, resolves their
variables, and materializes them into a target directory.

Key Features:
  • Template discovery from local directories and remote HTTP indexes
  • Semantic version resolution (exact versions or ranges like ^1.2)
  • Layered variables: environment, system, user, computed and secrets
  • Concurrent file processing with per-file error isolation
  • Lifecycle hooks and live generation events over WebSocket

Quick Start:
  scaffolder list                              List available templates
  scaffolder info web                          Show a template and its variables
  scaffolder generate web ./my-app --var projectName=my-app
  scaffolder install web --version ^2          Install a remote template locally

Command Aliases (for faster typing):
  generate (g, gen), list (l, ls), info (i), install (add), validate (v)`,
	SilenceUsage: true,
}

// Exit codes returned by ExitCode.
const (
	ExitFailure = 1
	// ExitUsage reports an error the user can fix by changing the input,
	// such as a missing variable or an unknown template.
	ExitUsage = 2
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case scaffolderrors.IsRecoverable(err):
		return ExitUsage
	default:
		return ExitFailure
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .scaffolder.yml, can also use SCAFFOLDER_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringSliceP("templates", "t", nil, "template directories to scan, replacing catalog.dirs")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("catalog.dirs", rootCmd.PersistentFlags().Lookup("templates"))
}

// initConfig initializes the configuration system with support for multiple config sources.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. SCAFFOLDER_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .scaffolder.yml in the current directory or the XDG config dir
//
// Environment variables with the SCAFFOLDER_ prefix override any key, e.g.
// SCAFFOLDER_PROCESSING_WORKERS=8.
func initConfig() {
	used, err := config.Init(viper.GetViper(), cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Warning:", err)
		return
	}
	if used != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", used)
	}
}
