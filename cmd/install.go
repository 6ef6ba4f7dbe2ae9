package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
)

var installCmd = &cobra.Command{
	Use:     "install <template>",
	Aliases: []string{"add"},
	Short:   "Install a template into the local template directory",
	Long: `Install copies a template from a local directory or downloads it from a
remote source into the install directory (catalog.install_dir), running its
pre_install and post_install hooks. An already installed version is left
untouched.

Examples:
  scaffolder install web                  # Highest version of "web"
  scaffolder install web --version ^2     # Highest 2.x
  scaffolder install web --dest ./vendor  # Install elsewhere`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

var (
	installVersion string
	installDest    string
	installFormat  string
)

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().StringVar(&installVersion, "version", "", "Template version or range (default: highest)")
	installCmd.Flags().StringVarP(&installDest, "dest", "d", "", "Parent directory for the installed template (default: catalog.install_dir)")
	installCmd.Flags().StringVarP(&installFormat, "format", "o", "text", "Output format (text, json, yaml)")
}

func runInstall(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		d, ok := a.catalog.Get(ctx, args[0], installVersion)
		if !ok {
			return scaffolderrors.ErrTemplateNotFound(args[0], installVersion)
		}

		parent := installDest
		if parent == "" {
			parent = a.cfg.Catalog.InstallDir
		}
		dest := filepath.Join(parent, d.Name+"-"+d.Version)

		result, err := a.catalog.Install(ctx, d.Name, d.Version, dest)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if format := strings.ToLower(installFormat); format == "json" || format == "yaml" {
			return writeStructured(out, format, result)
		}

		if result.AlreadyInstalled {
			fmt.Fprintf(out, "%s@%s is already installed at %s\n", result.Name, result.Version, result.Path)
			return nil
		}
		fmt.Fprintf(out, "Installed %s@%s from %s into %s\n", result.Name, result.Version, result.Origin, result.Path)
		for _, f := range result.HookFailures {
			fmt.Fprintf(out, "Hook failed: %s: %s\n", f.Command, f.Error)
		}
		return nil
	})
}
