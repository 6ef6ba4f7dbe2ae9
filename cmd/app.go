package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/scaffolder/internal/catalog"
	"github.com/conneroisu/scaffolder/internal/compiler"
	"github.com/conneroisu/scaffolder/internal/config"
	"github.com/conneroisu/scaffolder/internal/events"
	"github.com/conneroisu/scaffolder/internal/hooks"
	"github.com/conneroisu/scaffolder/internal/logging"
	"github.com/conneroisu/scaffolder/internal/pipeline"
	"github.com/conneroisu/scaffolder/internal/processor"
	"github.com/conneroisu/scaffolder/internal/variables"
	"github.com/conneroisu/scaffolder/internal/version"
)

// eventBufferSize is the per-subscriber buffer of the CLI event bus.
const eventBufferSize = 256

// app holds the components one command invocation works with.
type app struct {
	cfg          *config.Config
	logger       logging.Logger
	bus          *events.Bus
	catalog      *catalog.Catalog
	compiler     *compiler.Compiler
	resolver     *variables.Resolver
	processor    *processor.Processor
	orchestrator *pipeline.Orchestrator
	environments map[string]map[string]interface{}
	closers      []io.Closer
}

// loadApp reads the configuration and wires every component.
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return newApp(cfg, os.Stderr)
}

func newApp(cfg *config.Config, logOutput io.Writer) (*app, error) {
	a := &app{
		cfg: cfg,
		bus: events.NewBus(eventBufferSize),
	}

	logger, err := a.newLogger(logOutput)
	if err != nil {
		return nil, err
	}
	a.logger = logger

	environments, err := loadEnvironments(cfg.Variables.EnvironmentsFile)
	if err != nil {
		return nil, err
	}
	a.environments = environments

	var runner *hooks.Runner
	if !cfg.Hooks.Disabled {
		runner = hooks.NewRunner(logger)
		runner.Shell = cfg.Hooks.Shell
		if cfg.Hooks.Timeout > 0 {
			runner.Timeout = cfg.Hooks.Timeout
		}
	}

	sources := make([]catalog.Source, 0, len(cfg.Catalog.Sources))
	for _, sc := range cfg.Catalog.Sources {
		timeout := sc.Timeout
		if timeout <= 0 {
			timeout = catalog.DefaultHTTPTimeout
		}
		source, err := catalog.NewHTTPSource(sc.Name, sc.URL, &http.Client{Timeout: timeout}, logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		source.StripComponents = sc.StripComponents
		sources = append(sources, source)
	}

	catalogCfg := catalog.Config{
		Dirs:       cfg.Catalog.Dirs,
		Sources:    sources,
		FileNames:  cfg.Catalog.FileNames,
		CacheTTL:   cfg.Catalog.CacheTTL,
		WatchDelay: cfg.Catalog.WatchDelay,
		Logger:     logger,
		Events:     a.bus,
	}
	if runner != nil {
		catalogCfg.Hooks = runner
	}
	a.catalog = catalog.New(catalogCfg)

	engineOpts := []compiler.TextEngineOption{
		compiler.WithFuncs(template.FuncMap{"scaffolderVersion": version.GetVersion}),
	}
	if cfg.Compiler.Strict {
		engineOpts = append(engineOpts, compiler.WithStrictVariables())
	}
	if cfg.Compiler.LeftDelim != "" {
		engineOpts = append(engineOpts, compiler.WithDelims(cfg.Compiler.LeftDelim, cfg.Compiler.RightDelim))
	}
	a.compiler = compiler.New(compiler.Config{
		Engine:        compiler.NewTextEngine(engineOpts...),
		CacheTTL:      cfg.Compiler.CacheTTL,
		CacheCapacity: cfg.Compiler.CacheCapacity,
		Inheritance:   cfg.Compiler.Inheritance,
		PartialDirs:   cfg.Compiler.PartialDirs,
		PartialExts:   cfg.Processing.TemplateExtensions,
		Logger:        logger,
		Events:        a.bus,
	})

	a.resolver = variables.NewResolver(variables.Config{
		CacheTTL:      cfg.Variables.CacheTTL,
		CacheCapacity: cfg.Variables.CacheCapacity,
		Secrets:       variables.EnvSecretLoader{Prefix: cfg.Variables.SecretPrefix},
		Logger:        logger,
	})

	a.processor = processor.New(a.compiler, logger)

	pipelineCfg := pipeline.Config{
		Catalog:       a.catalog,
		Resolver:      a.resolver,
		Processor:     a.processor,
		Logger:        logger,
		Events:        a.bus,
		Processing:    a.processingOptions(),
		HookEnvPrefix: cfg.Hooks.EnvPrefix,
		FileNames:     cfg.Catalog.FileNames,
	}
	if runner != nil {
		pipelineCfg.Hooks = runner
	}
	a.orchestrator = pipeline.New(pipelineCfg)

	return a, nil
}

func (a *app) newLogger(out io.Writer) (logging.Logger, error) {
	base := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(a.cfg.Logging.Level),
		Format: a.cfg.Logging.Format,
		Output: out,
		Redact: a.cfg.Logging.Redact,
	})
	if !a.cfg.Logging.File {
		return base, nil
	}

	fileLogger, err := logging.NewFileLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(a.cfg.Logging.Level),
		Redact:    a.cfg.Logging.Redact,
		Retention: a.cfg.Logging.Retention,
	}, a.cfg.Logging.Dir)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, fileLogger)
	return logging.NewMultiLogger(base, fileLogger), nil
}

// processingOptions maps the processing section onto processor options.
func (a *app) processingOptions() processor.Options {
	p := a.cfg.Processing
	return processor.Options{
		MaxFileSize:         p.MaxFileSize,
		PreservePermissions: p.PreservePermissions,
		SkipBinary:          p.SkipBinary,
		TemplateExtensions:  p.TemplateExtensions,
		StripTemplateExt:    p.StripTemplateExt,
		ExcludeDirs:         p.ExcludeDirs,
		Exclude:             p.Exclude,
		Workers:             p.Workers,
	}
}

// variableOptions maps the variables section onto per-call options.
func (a *app) variableOptions(environment string) variables.Options {
	if environment == "" {
		environment = a.cfg.Variables.Environment
	}
	return variables.Options{
		Environment:  environment,
		Environments: a.environments,
		SkipEnv:      a.cfg.Variables.SkipEnv,
		SkipSystem:   a.cfg.Variables.SkipSystem,
		Interpolate:  a.cfg.Variables.Interpolate,
	}
}

func (a *app) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// loadEnvironments reads a YAML document mapping environment names to
// variable sets. Keys keep their case.
func loadEnvironments(path string) (map[string]map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read environments file %s: %w", path, err)
	}

	var environments map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &environments); err != nil {
		return nil, fmt.Errorf("invalid YAML in environments file %s: %w", path, err)
	}
	return environments, nil
}

// withApp runs fn with a loaded app and closes it afterwards.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", closeErr)
		}
	}()
	return fn(ctx, a)
}
