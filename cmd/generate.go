package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/scaffolder/internal/events"
	"github.com/conneroisu/scaffolder/internal/pipeline"
	"github.com/conneroisu/scaffolder/internal/processor"
)

var (
	generateFlags      *StandardFlags
	generateForce      bool
	generateDryRun     bool
	generateSkipHooks  bool
	generateWorkers    int
	generateEventsAddr string
)

// generateCmd represents the generate command.
var generateCmd = &cobra.Command{
	Use:     "generate <template> [output]",
	Aliases: []string{"g", "gen"},
	Short:   "Generate a project from a template",
	Long: `Generate a project from a template. The template is looked up in the
catalog by name (optionally constrained with --version) or, failing that,
treated as a path to a template directory or descriptor file.

Variables are layered: environment, system, values from --vars-file, --vars
and --var (later wins), then computed values. Missing required variables
fail the generation before anything is written.

Examples:
  scaffolder generate web ./my-app --var projectName=my-app
  scaffolder generate web --version ^2 -f vars.yaml
  scaffolder generate ./templates/api ./svc --dry-run
  scaffolder generate web ./my-app --force --skip-hooks
  scaffolder generate web ./my-app --events-addr localhost:7070 -o json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGenerateCommand,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateFlags = AddStandardFlags(generateCmd, "template", "variables", "output")

	generateCmd.Flags().BoolVar(&generateForce, "force", false, "Write into an existing output directory")
	generateCmd.Flags().BoolVar(&generateDryRun, "dry-run", false, "Resolve and validate without writing files")
	generateCmd.Flags().BoolVar(&generateSkipHooks, "skip-hooks", false, "Do not run template hooks")
	generateCmd.Flags().IntVarP(&generateWorkers, "workers", "w", 0, "File processing workers (default: from config)")
	generateCmd.Flags().StringVar(&generateEventsAddr, "events-addr", "", "Serve live generation events over WebSocket at this address")

	AddFlagValidation(generateCmd, "format", func(format string) error {
		return ValidateFormatWithSuggestion(format, []string{"table", "json", "yaml"})
	})
}

func runGenerateCommand(cmd *cobra.Command, args []string) error {
	if err := generateFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	vars, err := generateFlags.ParseVariables()
	if err != nil {
		return err
	}

	template := args[0]
	output := defaultOutput(template)
	if len(args) == 2 {
		output = args[1]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(ctx context.Context, a *app) error {
		if generateEventsAddr != "" {
			shutdown, err := serveEvents(ctx, a, generateEventsAddr, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer shutdown()
		}

		req := pipeline.Request{
			Template:        template,
			Version:         generateFlags.Version,
			Output:          output,
			Variables:       vars,
			VariableOptions: a.variableOptions(generateFlags.Env),
			Force:           generateForce,
			DryRun:          generateDryRun,
			SkipHooks:       generateSkipHooks,
		}
		if generateWorkers > 0 {
			opts := a.processingOptions()
			opts.Workers = generateWorkers
			req.Processing = &opts
		}

		result, genErr := a.orchestrator.Generate(ctx, req)

		out := cmd.OutOrStdout()
		switch strings.ToLower(generateFlags.OutputFormat) {
		case "json", "yaml":
			if err := writeStructured(out, generateFlags.OutputFormat, result); err != nil {
				return err
			}
		default:
			if !generateFlags.Quiet {
				printGenerateResult(out, result, generateFlags.Verbose)
			}
		}

		if genErr != nil {
			return fmt.Errorf("generation failed at %s: %w", result.Stage, genErr)
		}
		if result.Status == pipeline.StatusPartial {
			return fmt.Errorf("%d of %d files failed", result.Batch.Errors, result.Batch.Total)
		}
		return nil
	})
}

// defaultOutput is ./<template name> for a catalog name or template path.
func defaultOutput(template string) string {
	name := filepath.Base(filepath.Clean(template))
	if ext := filepath.Ext(name); ext == ".yaml" || ext == ".yml" || ext == ".toml" || ext == ".json" {
		name = filepath.Base(filepath.Dir(filepath.Clean(template)))
	}
	return filepath.Join(".", name)
}

// serveEvents exposes the app's event bus at ws://addr/events until the
// returned shutdown function is called.
func serveEvents(ctx context.Context, a *app, addr string, log io.Writer) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/events", events.NewWebSocketHandler(a.bus, a.logger, listener.Addr().String()))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(ctx, err, "Event server stopped")
		}
	}()
	fmt.Fprintf(log, "Streaming events on ws://%s/events\n", listener.Addr())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn(ctx, err, "Event server shutdown failed")
		}
	}, nil
}

func printGenerateResult(w io.Writer, result *pipeline.Result, verbose bool) {
	switch result.Status {
	case pipeline.StatusFailed:
		fmt.Fprintf(w, "Generation of %s failed at %s\n", result.Template, result.Stage)
		if result.Error != "" {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(result.Error, "\n", "\n  "))
		}
	case pipeline.StatusPartial:
		fmt.Fprintf(w, "Generated %s@%s into %s with errors\n", result.Template, result.Version, result.Output)
	default:
		if result.DryRun {
			fmt.Fprintf(w, "Dry run: %s@%s would be generated into %s\n", result.Template, result.Version, result.Output)
		} else {
			fmt.Fprintf(w, "Generated %s@%s into %s\n", result.Template, result.Version, result.Output)
		}
	}

	if b := result.Batch; b != nil && !result.DryRun {
		fmt.Fprintf(w, "Files: %d total, %d written, %d skipped, %d failed (%s)\n",
			b.Total, b.Success, b.Skipped, b.Errors, b.Duration.Round(time.Millisecond))
		for _, r := range b.Results {
			if r.Status == processor.StatusError || (verbose && r.Status != processor.StatusSuccess) {
				fmt.Fprintf(w, "  %-7s %s: %s\n", r.Status, r.Source, r.Error)
			} else if verbose {
				fmt.Fprintf(w, "  %-7s %s\n", r.Status, r.Destination)
			}
		}
	}

	for _, advisory := range result.Advisories {
		fmt.Fprintf(w, "Advisory: %s\n", advisory)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	for _, f := range result.HookFailures {
		fmt.Fprintf(w, "Hook failed: %s: %s\n", f.Command, f.Error)
	}

	if verbose {
		for _, s := range result.Metrics.Stages {
			fmt.Fprintf(w, "  stage %-18s %s\n", s.Stage, s.Duration.Round(time.Microsecond))
		}
		fmt.Fprintf(w, "Total: %s\n", result.Metrics.Total.Round(time.Millisecond))
	}
}
