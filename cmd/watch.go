package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/scaffolder/internal/catalog"
	"github.com/conneroisu/scaffolder/internal/events"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch template directories and refresh the catalog on changes",
	Long: `Watch the configured template directories for descriptor changes. Each
change invalidates the catalog caches and the template list is rebuilt.
Events can be streamed to WebSocket clients with --events-addr.

Examples:
  scaffolder watch                           # Watch all configured directories
  scaffolder watch --verbose                 # Print the templates after each change
  scaffolder watch --events-addr :7070       # Stream catalog events`,
	RunE: runWatch,
}

var (
	watchVerbose    bool
	watchEventsAddr string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Verbose output")
	watchCmd.Flags().StringVar(&watchEventsAddr, "events-addr", "", "Serve catalog events over WebSocket at this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()

		if watchEventsAddr != "" {
			shutdown, err := serveEvents(ctx, a, watchEventsAddr, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer shutdown()
		}

		templates, err := a.catalog.Discover(ctx, catalog.DiscoverOptions{IncludeLocal: true})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Watching %d directories, %d templates found. Press Ctrl+C to stop.\n",
			len(a.catalog.Dirs()), len(templates))

		sub, unsubscribe := a.bus.Subscribe()
		defer unsubscribe()

		done := make(chan error, 1)
		go func() { done <- a.catalog.Watch(ctx) }()

		for {
			select {
			case err := <-done:
				if err != nil {
					return fmt.Errorf("watcher stopped: %w", err)
				}
				fmt.Fprintln(out, "Stopped watching.")
				return nil
			case event := <-sub:
				if event.Name != events.CatalogInvalidated {
					continue
				}
				reportChange(ctx, out, a, event)
			}
		}
	})
}

func reportChange(ctx context.Context, w io.Writer, a *app, event events.Event) {
	fmt.Fprintf(w, "[%s] %v changed\n", event.Timestamp.Format(time.TimeOnly), event.Fields["paths"])

	templates, err := a.catalog.Discover(ctx, catalog.DiscoverOptions{IncludeLocal: true})
	if err != nil {
		fmt.Fprintf(w, "  rescan failed: %v\n", err)
		return
	}
	fmt.Fprintf(w, "  %d templates available\n", len(templates))

	if watchVerbose {
		for _, d := range templates {
			fmt.Fprintf(w, "  %s@%s  %s\n", d.Name, d.Version, d.Root)
		}
	}
}
