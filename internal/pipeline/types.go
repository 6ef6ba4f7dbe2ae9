// Package pipeline drives one generation request through template
// resolution, validation, variable resolution, output preparation, batch
// processing and hooks.
package pipeline

import (
	"context"
	"time"

	"github.com/conneroisu/scaffolder/internal/catalog"
	"github.com/conneroisu/scaffolder/internal/descriptor"
	"github.com/conneroisu/scaffolder/internal/hooks"
	"github.com/conneroisu/scaffolder/internal/processor"
	"github.com/conneroisu/scaffolder/internal/variables"
)

// Stage names, in execution order.
const (
	StageResolveTemplate  = "resolve_template"
	StageValidate         = "validate"
	StageResolveVariables = "resolve_variables"
	StagePrepareOutput    = "prepare_output"
	StageProcessFiles     = "process_files"
	StageRunHooks         = "run_hooks"
	StageDone             = "done"
)

// Status is the overall outcome of a generation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// TemplateCatalog resolves templates by name and version.
type TemplateCatalog interface {
	Get(ctx context.Context, name, version string) (*descriptor.Descriptor, bool)
}

// TemplateInstaller materializes a catalog template into a directory. A
// catalog implementing it lets remote templates be generated without a
// prior install.
type TemplateInstaller interface {
	Install(ctx context.Context, name, version, destPath string) (*catalog.InstallResult, error)
}

// VariableResolver builds the variable context.
type VariableResolver interface {
	Resolve(ctx context.Context, userVars map[string]interface{}, opts variables.Options) (*variables.Context, error)
}

// BatchProcessor materializes a source tree.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, sourceDir, destDir string, vars map[string]interface{}, opts processor.Options) (*processor.BatchResult, error)
}

// HookRunner runs lifecycle hooks.
type HookRunner interface {
	Run(ctx context.Context, dir string, commands []string, env []string) []hooks.Failure
}

// Request is one generation.
type Request struct {
	// Template is a catalog name or a path to a template directory or
	// descriptor file.
	Template  string
	Version   string
	Output    string
	Variables map[string]interface{}
	// VariableOptions are passed to the resolver; Schemas is filled from the
	// descriptor.
	VariableOptions variables.Options
	// Processing overrides the orchestrator's processing defaults.
	Processing *processor.Options
	Force      bool
	DryRun     bool
	SkipHooks  bool
}

// StageMetric records one executed stage.
type StageMetric struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Metrics holds per-stage timings.
type Metrics struct {
	Stages []StageMetric `json:"stages"`
	Total  time.Duration `json:"total"`
}

// Duration returns the elapsed time of stage, or zero if it did not run.
func (m Metrics) Duration(stage string) time.Duration {
	for _, s := range m.Stages {
		if s.Stage == stage {
			return s.Duration
		}
	}
	return 0
}

// Result is the outcome of Generate. It is never nil.
type Result struct {
	ID       string `json:"id"`
	Template string `json:"template"`
	Version  string `json:"version,omitempty"`
	Output   string `json:"output"`
	Status   Status `json:"status"`
	// Stage is StageDone on completion, or the stage that failed.
	Stage  string `json:"stage"`
	Error  string `json:"error,omitempty"`
	DryRun bool   `json:"dry_run"`

	Batch        *processor.BatchResult `json:"batch,omitempty"`
	Advisories   []string               `json:"advisories,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	HookFailures []hooks.Failure        `json:"hook_failures,omitempty"`
	Metrics      Metrics                `json:"metrics"`

	Descriptor *descriptor.Descriptor `json:"-"`
	Variables  *variables.Context     `json:"-"`
}
