package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/scaffolder/internal/catalog"
	"github.com/conneroisu/scaffolder/internal/descriptor"
)

var listCmd = &cobra.Command{
	Use:     "list [query]",
	Aliases: []string{"l", "ls"},
	Short:   "List available templates",
	Long: `List templates found in the configured template directories and remote
sources. A query filters by name, description, category and keywords.

Examples:
  scaffolder list                    # List all templates in table format
  scaffolder list api                # Templates matching "api"
  scaffolder list --local            # Only local directories
  scaffolder list --category web     # Only one category
  scaffolder list --categories       # Category counts
  scaffolder list -o json            # Output as JSON`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

var (
	listFlags      *StandardFlags
	listLocal      bool
	listRemote     bool
	listRefresh    bool
	listCategory   string
	listCategories bool
)

// listEntry is the serialized form of one template.
type listEntry struct {
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version" yaml:"version"`
	Description string   `json:"description" yaml:"description"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Origin      string   `json:"origin" yaml:"origin"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty"`
}

func init() {
	rootCmd.AddCommand(listCmd)

	listFlags = AddStandardFlags(listCmd, "output")

	listCmd.Flags().BoolVar(&listLocal, "local", false, "Only templates from local directories")
	listCmd.Flags().BoolVar(&listRemote, "remote", false, "Only templates from remote sources")
	listCmd.Flags().BoolVarP(&listRefresh, "refresh", "r", false, "Rebuild the template list")
	listCmd.Flags().StringVarP(&listCategory, "category", "c", "", "Only templates in this category")
	listCmd.Flags().BoolVar(&listCategories, "categories", false, "Show template counts per category")

	AddFlagValidation(listCmd, "format", func(format string) error {
		return ValidateFormatWithSuggestion(format, []string{"table", "json", "yaml"})
	})
}

func runList(cmd *cobra.Command, args []string) error {
	if err := listFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()

		if listCategories {
			counts, err := a.catalog.Categories(ctx)
			if err != nil {
				return err
			}
			return outputCategories(out, counts)
		}

		query := ""
		if len(args) > 0 {
			query = args[0]
		}
		templates, err := a.catalog.Search(ctx, query, catalog.DiscoverOptions{
			IncludeLocal:  listLocal,
			IncludeRemote: listRemote,
			ForceRefresh:  listRefresh,
		})
		if err != nil {
			return err
		}

		templates = filterCategory(templates, listCategory)
		if len(templates) == 0 {
			if !listFlags.Quiet {
				fmt.Fprintln(out, "No templates found.")
			}
			return nil
		}

		entries := make([]listEntry, 0, len(templates))
		for _, d := range templates {
			entries = append(entries, toListEntry(d))
		}

		switch strings.ToLower(listFlags.OutputFormat) {
		case "json", "yaml":
			return writeStructured(out, listFlags.OutputFormat, entries)
		default:
			return outputTable(out, entries, listFlags.Verbose)
		}
	})
}

func filterCategory(templates []*descriptor.Descriptor, category string) []*descriptor.Descriptor {
	if category == "" {
		return templates
	}
	out := templates[:0:0]
	for _, d := range templates {
		if strings.EqualFold(d.Category, category) {
			out = append(out, d)
		}
	}
	return out
}

func toListEntry(d *descriptor.Descriptor) listEntry {
	origin := d.Origin
	if origin == "" {
		origin = descriptor.OriginLocal
	}
	return listEntry{
		Name:        d.Name,
		Version:     d.Version,
		Description: d.Description,
		Category:    d.Category,
		Keywords:    d.Keywords,
		Origin:      origin,
		Path:        d.Root,
	}
}

func outputTable(w io.Writer, entries []listEntry, verbose bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if verbose {
		fmt.Fprintln(tw, "NAME\tVERSION\tCATEGORY\tORIGIN\tPATH\tDESCRIPTION")
	} else {
		fmt.Fprintln(tw, "NAME\tVERSION\tCATEGORY\tORIGIN\tDESCRIPTION")
	}

	for _, e := range entries {
		if verbose {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Name, e.Version, e.Category, e.Origin, e.Path, e.Description)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Version, e.Category, e.Origin, truncate(e.Description, 60))
		}
	}

	return tw.Flush()
}

func outputCategories(w io.Writer, counts map[string]int) error {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tTEMPLATES")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, counts[name])
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
