package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/scaffolder/internal/descriptor"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/events"
	"github.com/conneroisu/scaffolder/internal/hooks"
	"github.com/conneroisu/scaffolder/internal/logging"
	"github.com/conneroisu/scaffolder/internal/processor"
	"github.com/conneroisu/scaffolder/internal/variables"
	"github.com/conneroisu/scaffolder/internal/version"
)

// DefaultHookEnvPrefix prefixes variables exported to hook commands.
const DefaultHookEnvPrefix = "SCAFFOLD_"

// Config wires the orchestrator to its components.
type Config struct {
	Catalog   TemplateCatalog
	Resolver  VariableResolver
	Processor BatchProcessor
	Hooks     HookRunner
	Logger    logging.Logger
	Events    events.Emitter

	// Processing holds the defaults for every request.
	Processing    processor.Options
	HookEnvPrefix string
	FileNames     []string
}

// Orchestrator is the only component holding references to all others.
type Orchestrator struct {
	catalog    TemplateCatalog
	resolver   VariableResolver
	processor  BatchProcessor
	hooks      HookRunner
	logger     logging.Logger
	events     events.Emitter
	processing processor.Options
	envPrefix  string
	fileNames  []string
}

// New creates an orchestrator. Resolver and Processor are required; a nil
// Catalog leaves only path-based template resolution.
func New(cfg Config) *Orchestrator {
	prefix := cfg.HookEnvPrefix
	if prefix == "" {
		prefix = DefaultHookEnvPrefix
	}
	names := cfg.FileNames
	if len(names) == 0 {
		names = descriptor.DefaultFileNames
	}

	return &Orchestrator{
		catalog:    cfg.Catalog,
		resolver:   cfg.Resolver,
		processor:  cfg.Processor,
		hooks:      cfg.Hooks,
		logger:     logging.OrDiscard(cfg.Logger).WithComponent("pipeline"),
		events:     events.OrNop(cfg.Events),
		processing: cfg.Processing,
		envPrefix:  prefix,
		fileNames:  names,
	}
}

// run carries the state threaded through the stages of one request.
type run struct {
	req     Request
	result  *Result
	desc    *descriptor.Descriptor
	vars    *variables.Context
	output  string
	logger  logging.Logger
	scratch string // temporary install of a remote template
}

// Generate runs req to completion. The returned Result is never nil; the
// error is non-nil exactly when the status is failed.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	r := &run{
		req: req,
		result: &Result{
			ID:       uuid.NewString(),
			Template: req.Template,
			Version:  req.Version,
			Output:   req.Output,
			DryRun:   req.DryRun,
		},
	}
	ctx = logging.ContextWithFields(ctx, "generation", r.result.ID)
	r.logger = o.logger
	defer o.removeScratch(ctx, r)

	o.events.Emit(events.GenerationStarted, map[string]interface{}{
		"id":       r.result.ID,
		"template": req.Template,
		"version":  req.Version,
		"output":   req.Output,
		"dry_run":  req.DryRun,
	})
	r.logger.Info(ctx, "Generation started", "template", req.Template, "output", req.Output, "dry_run", req.DryRun)

	stages := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{StageResolveTemplate, o.resolveTemplate},
		{StageValidate, o.validate},
		{StageResolveVariables, o.resolveVariables},
		{StagePrepareOutput, o.prepareOutput},
		{StageProcessFiles, o.processFiles},
		{StageRunHooks, o.runHooks},
	}

	for _, stage := range stages {
		if err := o.stage(ctx, r, stage.name, stage.fn); err != nil {
			return o.fail(ctx, r, stage.name, err, start)
		}
	}

	result := r.result
	result.Stage = StageDone
	result.Status = StatusSuccess
	if result.Batch != nil && result.Batch.Errors > 0 {
		result.Status = StatusPartial
	}
	result.Metrics.Total = time.Since(start)

	fields := map[string]interface{}{
		"id":       result.ID,
		"template": result.Template,
		"version":  result.Version,
		"status":   string(result.Status),
		"duration": result.Metrics.Total.String(),
	}
	if result.Batch != nil {
		fields["files"] = result.Batch.Total
		fields["errors"] = result.Batch.Errors
	}
	o.events.Emit(events.GenerationCompleted, fields)
	r.logger.Info(ctx, "Generation completed",
		"status", string(result.Status),
		"duration", result.Metrics.Total.String(),
	)

	return result, nil
}

// stage runs fn and records its elapsed time whatever the outcome.
func (o *Orchestrator) stage(ctx context.Context, r *run, name string, fn func(context.Context, *run) error) error {
	perf := logging.StartOperation(r.logger, name)

	err := ctx.Err()
	if err == nil {
		err = fn(ctx, r)
	}

	metric := StageMetric{Stage: name, Duration: perf.Elapsed()}
	if err != nil {
		metric.Error = err.Error()
		perf.EndWithError(ctx, err)
	} else {
		perf.End(ctx)
	}
	r.result.Metrics.Stages = append(r.result.Metrics.Stages, metric)

	o.events.Emit(events.StageCompleted, map[string]interface{}{
		"id":       r.result.ID,
		"stage":    name,
		"duration": metric.Duration.String(),
		"failed":   err != nil,
	})
	return err
}

func (o *Orchestrator) fail(ctx context.Context, r *run, stage string, err error, start time.Time) (*Result, error) {
	result := r.result
	result.Status = StatusFailed
	result.Stage = stage
	result.Error = scaffolderrors.FormatError(err)
	result.Metrics.Total = time.Since(start)

	o.events.Emit(events.GenerationFailed, map[string]interface{}{
		"id":       result.ID,
		"template": result.Template,
		"stage":    stage,
		"error":    err.Error(),
	})
	r.logger.Error(ctx, err, "Generation failed", "stage", stage)

	return result, fmt.Errorf("%s: %w", stage, err)
}

func (o *Orchestrator) resolveTemplate(ctx context.Context, r *run) error {
	name := r.req.Template
	if name == "" {
		return scaffolderrors.NewValidationError(scaffolderrors.ErrCodeValidationFailed, "template name is required",
			scaffolderrors.Violation{Field: "template", Rule: "required", Message: "is required"})
	}

	if o.catalog != nil {
		if d, ok := o.catalog.Get(ctx, name, r.req.Version); ok {
			if d.Root == "" {
				installed, err := o.fetchRemote(ctx, r, d)
				if err != nil {
					return err
				}
				d = installed
			}
			o.resolved(r, d)
			return nil
		}
	}

	if d := o.loadFromPath(name); d != nil {
		o.resolved(r, d)
		return nil
	}

	return scaffolderrors.ErrTemplateNotFound(name, r.req.Version)
}

// fetchRemote installs a template that exists only in a remote index into a
// scratch directory removed when the generation ends.
func (o *Orchestrator) fetchRemote(ctx context.Context, r *run, d *descriptor.Descriptor) (*descriptor.Descriptor, error) {
	installer, ok := o.catalog.(TemplateInstaller)
	if !ok {
		return nil, scaffolderrors.NewNotFoundError(scaffolderrors.ErrCodeTemplateNotFound,
			fmt.Sprintf("remote template %s is not installed, run: scaffolder install %s", d.Key(), d.Name)).
			WithContext("origin", d.Origin)
	}

	scratch, err := os.MkdirTemp("", "scaffolder-remote-")
	if err != nil {
		return nil, scaffolderrors.NewInfrastructureError(scaffolderrors.ErrCodeDirectoryCreate,
			"cannot create scratch directory", err)
	}
	r.scratch = scratch

	result, err := installer.Install(ctx, d.Name, d.Version, filepath.Join(scratch, d.Name+"-"+d.Version))
	if err != nil {
		return nil, err
	}
	r.logger.Debug(ctx, "Fetched remote template", "template", d.Key(), "origin", d.Origin, "path", result.Path)
	return result.Descriptor, nil
}

func (o *Orchestrator) removeScratch(ctx context.Context, r *run) {
	if r.scratch == "" {
		return
	}
	if err := os.RemoveAll(r.scratch); err != nil {
		r.logger.Warn(ctx, err, "Failed to remove scratch directory", "path", r.scratch)
	}
}

func (o *Orchestrator) resolved(r *run, d *descriptor.Descriptor) {
	r.desc = d
	r.result.Descriptor = d
	r.result.Template = d.Name
	r.result.Version = d.Version
}

// loadFromPath treats name as a template directory or a descriptor file.
func (o *Orchestrator) loadFromPath(name string) *descriptor.Descriptor {
	info, err := os.Stat(name)
	if err != nil {
		return nil
	}

	path := name
	if info.IsDir() {
		path = descriptor.Find(name, o.fileNames)
		if path == "" {
			return nil
		}
	}

	d, err := descriptor.Load(path)
	if err != nil {
		return nil
	}
	return d
}

func (o *Orchestrator) validate(ctx context.Context, r *run) error {
	report, err := descriptor.Validate(r.desc)
	if report != nil {
		r.result.Advisories = append(r.result.Advisories, report.Advisories...)
	}
	if err != nil {
		return err
	}

	if r.desc.Engine != "" {
		ok, err := version.CheckEngine(r.desc.Engine)
		switch {
		case err != nil:
			r.result.Advisories = append(r.result.Advisories,
				fmt.Sprintf("engine constraint %q cannot be checked: %v", r.desc.Engine, err))
		case !ok:
			r.result.Advisories = append(r.result.Advisories,
				fmt.Sprintf("template requires engine %s, running %s", r.desc.Engine, version.EngineVersion))
		}
	}

	for _, advisory := range r.result.Advisories {
		r.logger.Warn(ctx, nil, "Template advisory", "advisory", advisory)
	}
	return nil
}

func (o *Orchestrator) resolveVariables(ctx context.Context, r *run) error {
	opts := r.req.VariableOptions
	opts.Schemas = r.desc.Variables

	vars, err := o.resolver.Resolve(ctx, r.req.Variables, opts)
	if err != nil {
		return err
	}
	r.vars = vars
	r.result.Variables = vars
	r.result.Warnings = append(r.result.Warnings, vars.Warnings...)
	return nil
}

func (o *Orchestrator) prepareOutput(_ context.Context, r *run) error {
	if r.req.Output == "" {
		return scaffolderrors.NewValidationError(scaffolderrors.ErrCodeValidationFailed, "output directory is required",
			scaffolderrors.Violation{Field: "output", Rule: "required", Message: "is required"})
	}

	output, err := filepath.Abs(r.req.Output)
	if err != nil {
		output = filepath.Clean(r.req.Output)
	}
	r.output = output
	r.result.Output = output

	info, err := os.Stat(output)
	switch {
	case err == nil && !r.req.Force:
		return scaffolderrors.ErrTargetExists(output)
	case err == nil && !info.IsDir():
		return scaffolderrors.NewInfrastructureError(scaffolderrors.ErrCodeDirectoryCreate,
			"output path is not a directory", nil).WithPath(output)
	}

	if r.req.DryRun {
		return nil
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return scaffolderrors.NewInfrastructureError(scaffolderrors.ErrCodeDirectoryCreate,
			"cannot create output directory", err).WithPath(output)
	}
	return nil
}

func (o *Orchestrator) processFiles(ctx context.Context, r *run) error {
	if r.req.DryRun {
		r.result.Batch = &processor.BatchResult{}
		return nil
	}

	if !r.req.SkipHooks && len(r.desc.Hooks.PreGenerate) > 0 {
		r.result.HookFailures = append(r.result.HookFailures,
			o.runLifecycle(ctx, r, hooks.PreGenerate, r.desc.Hooks.PreGenerate)...)
	}

	opts := o.processing
	if r.req.Processing != nil {
		opts = *r.req.Processing
	}
	opts.Rules = append(append([]descriptor.FileRule(nil), opts.Rules...), r.desc.Files...)

	source := r.desc.SourcePath()
	if source == "" {
		return scaffolderrors.NewNotFoundError(scaffolderrors.ErrCodeTemplateNotFound,
			fmt.Sprintf("template %s has no files on disk", r.desc.Key()))
	}
	if source == r.desc.Root {
		opts.Exclude = append(append([]string(nil), opts.Exclude...), o.fileNames...)
	}

	batch, err := o.processor.ProcessBatch(ctx, source, r.output, r.vars.Flatten(), opts)
	if batch != nil {
		r.result.Batch = batch
	}
	if err != nil {
		return err
	}

	for _, failed := range batch.Failed() {
		r.logger.Warn(ctx, nil, "File failed", "source", failed.Source, "error", failed.Error)
	}
	return nil
}

func (o *Orchestrator) runHooks(ctx context.Context, r *run) error {
	if r.req.DryRun || r.req.SkipHooks || len(r.desc.Hooks.PostGenerate) == 0 {
		return nil
	}
	r.result.HookFailures = append(r.result.HookFailures,
		o.runLifecycle(ctx, r, hooks.PostGenerate, r.desc.Hooks.PostGenerate)...)
	return nil
}

// runLifecycle interpolates and runs one hook list in the output directory.
// Failures are logged and returned, never raised.
func (o *Orchestrator) runLifecycle(ctx context.Context, r *run, point string, commands []string) []hooks.Failure {
	if o.hooks == nil {
		r.logger.Debug(ctx, "No hook runner configured", "hook", point, "commands", len(commands))
		return nil
	}

	expanded := make([]string, len(commands))
	for i, command := range commands {
		expanded[i] = variables.Interpolate(command, r.vars.Lookup)
	}

	exported := make(map[string]interface{}, len(r.vars.User)+len(r.vars.Computed))
	for k, v := range r.vars.Computed {
		exported[k] = v
	}
	for k, v := range r.vars.User {
		exported[k] = v
	}

	failures := o.hooks.Run(ctx, r.output, expanded, hooks.Env(o.envPrefix, exported))
	for _, f := range failures {
		r.logger.Warn(ctx, nil, "Hook failed", "hook", point, "command", f.Command, "error", f.Error)
	}
	return failures
}
