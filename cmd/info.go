package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/scaffolder/internal/descriptor"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/version"
)

var infoCmd = &cobra.Command{
	Use:     "info <template>",
	Aliases: []string{"i", "show"},
	Short:   "Show a template and its variables",
	Long: `Show the descriptor of one template: metadata, variables with their
types and defaults, file rules, hooks and dependencies.

Examples:
  scaffolder info web                  # Highest version of "web"
  scaffolder info web --version ~1.2   # Highest 1.2.x
  scaffolder info web -o toml          # The descriptor as TOML`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var (
	infoVersion string
	infoFormat  string
)

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().StringVar(&infoVersion, "version", "", "Template version or range (default: highest)")
	infoCmd.Flags().StringVarP(&infoFormat, "format", "o", "text", "Output format (text, yaml, toml, json)")

	AddFlagValidation(infoCmd, "format", func(format string) error {
		return ValidateFormatWithSuggestion(format, []string{"text", "yaml", "toml", "json"})
	})
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		d, ok := a.catalog.Get(ctx, args[0], infoVersion)
		if !ok {
			return scaffolderrors.ErrTemplateNotFound(args[0], infoVersion)
		}

		out := cmd.OutOrStdout()
		if strings.ToLower(infoFormat) == "text" {
			return outputInfo(out, d)
		}

		data, err := descriptor.Marshal(d, descriptor.Format(strings.ToLower(infoFormat)))
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	})
}

func outputInfo(w io.Writer, d *descriptor.Descriptor) error {
	fmt.Fprintf(w, "%s %s\n", d.Name, d.Version)
	if d.Description != "" {
		fmt.Fprintf(w, "  %s\n", d.Description)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", label, value)
		}
	}
	row("Author", d.Author)
	row("License", d.License)
	row("Category", d.Category)
	row("Keywords", strings.Join(d.Keywords, ", "))
	row("Origin", d.Origin)
	row("Path", d.Root)
	row("Repository", d.Repository)
	row("Homepage", d.Homepage)
	if d.Engine != "" {
		compatible := "compatible"
		if ok, err := version.CheckEngine(d.Engine); err != nil {
			compatible = "unparseable"
		} else if !ok {
			compatible = "requires engine " + d.Engine + ", running " + version.EngineVersion
		}
		row("Engine", fmt.Sprintf("%s (%s)", d.Engine, compatible))
	}
	row("Security", d.Security.Status)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(d.Variables) > 0 {
		fmt.Fprintln(w, "\nVariables:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  NAME\tTYPE\tREQUIRED\tDEFAULT\tDESCRIPTION")
		for _, v := range d.Variables {
			typ := v.Type
			if typ == "" {
				typ = descriptor.TypeString
			}
			def := ""
			if v.Default != nil {
				def = fmt.Sprint(v.Default)
			}
			if v.Secret {
				typ += " (secret)"
				def = ""
			}
			fmt.Fprintf(tw, "  %s\t%s\t%t\t%s\t%s\n", v.Name, typ, v.Required, def, v.Description)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(d.Files) > 0 {
		fmt.Fprintln(w, "\nFile rules:")
		for _, f := range d.Files {
			line := "  " + f.Source
			if f.Destination != "" {
				line += " -> " + f.Destination
			}
			if f.Type != "" {
				line += " [" + f.Type + "]"
			}
			if f.Condition != "" {
				line += " if " + f.Condition
			}
			fmt.Fprintln(w, line)
		}
	}

	hooks := []struct {
		name     string
		commands []string
	}{
		{"pre_generate", d.Hooks.PreGenerate},
		{"post_generate", d.Hooks.PostGenerate},
		{"pre_install", d.Hooks.PreInstall},
		{"post_install", d.Hooks.PostInstall},
	}
	for _, h := range hooks {
		if len(h.commands) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nHook %s:\n", h.name)
		for _, c := range h.commands {
			fmt.Fprintf(w, "  %s\n", c)
		}
	}

	if len(d.Dependencies) > 0 {
		fmt.Fprintln(w, "\nDependencies:")
		for _, dep := range d.Dependencies {
			line := "  " + dep.Name
			if dep.Version != "" {
				line += " " + dep.Version
			}
			if dep.Optional {
				line += " (optional)"
			}
			fmt.Fprintln(w, line)
		}
	}

	return nil
}
