package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/scaffolder/internal/cache"
	"github.com/conneroisu/scaffolder/internal/catalog"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the catalog, compiler and variable caches",
	Long: `Inspect and clear the in-process caches. Because each invocation starts
cold, "cache stats" first runs discovery the given number of times so the
reported hit rates reflect repeated lookups.

Examples:
  scaffolder cache stats              # Stats after one discovery pass
  scaffolder cache stats --passes 3   # Stats after three passes
  scaffolder cache clear              # Clear and rebuild the template list`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear every cache and rebuild the template list",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var (
	cachePasses int
	cacheFormat string
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)

	cacheStatsCmd.Flags().IntVar(&cachePasses, "passes", 1, "Discovery passes to run before reporting")
	cacheStatsCmd.Flags().StringVarP(&cacheFormat, "format", "o", "table", "Output format (table, json, yaml)")
}

// cacheReport is the serialized form of the cache statistics.
type cacheReport struct {
	CatalogFiles cache.Stats `json:"catalog_files" yaml:"catalog_files"`
	CatalogLists cache.Stats `json:"catalog_lists" yaml:"catalog_lists"`
	Compiler     cache.Stats `json:"compiler" yaml:"compiler"`
	Variables    cache.Stats `json:"variables" yaml:"variables"`
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	if cachePasses < 1 {
		return fmt.Errorf("--passes must be at least 1")
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		for i := 0; i < cachePasses; i++ {
			if _, err := a.catalog.Discover(ctx, catalog.DiscoverOptions{}); err != nil {
				return err
			}
		}

		catalogStats := a.catalog.Stats()
		report := cacheReport{
			CatalogFiles: catalogStats.Files,
			CatalogLists: catalogStats.Lists,
			Compiler:     a.compiler.Stats(),
			Variables:    a.resolver.Stats(),
		}

		out := cmd.OutOrStdout()
		if format := strings.ToLower(cacheFormat); format == "json" || format == "yaml" {
			return writeStructured(out, format, report)
		}
		return outputCacheTable(out, report)
	})
}

func outputCacheTable(w io.Writer, r cacheReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CACHE\tENTRIES\tCAPACITY\tHITS\tMISSES\tHIT RATE\tEVICTIONS\tEXPIRED")
	rows := []struct {
		name  string
		stats cache.Stats
	}{
		{"catalog.files", r.CatalogFiles},
		{"catalog.lists", r.CatalogLists},
		{"compiler", r.Compiler},
		{"variables", r.Variables},
	}
	for _, row := range rows {
		s := row.stats
		capacity := "unbounded"
		if s.Capacity > 0 {
			capacity = fmt.Sprint(s.Capacity)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%.1f%%\t%d\t%d\n",
			row.name, s.Entries, capacity, s.Hits, s.Misses, s.HitRate()*100, s.Evictions, s.Expired)
	}
	return tw.Flush()
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		a.catalog.Clear()
		a.compiler.Clear()
		a.resolver.Clear()

		templates, err := a.catalog.Discover(ctx, catalog.DiscoverOptions{ForceRefresh: true})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Caches cleared, %d templates rediscovered\n", len(templates))
		return nil
	})
}
