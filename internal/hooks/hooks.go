// Package hooks runs the shell commands a template declares for its
// lifecycle points. Hooks are best-effort: failures are collected and
// reported, never returned as errors.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/conneroisu/scaffolder/internal/logging"
	"github.com/conneroisu/scaffolder/internal/textcase"
)

// Defaults for Runner fields left zero.
const (
	DefaultShell   = "/bin/sh"
	DefaultTimeout = 5 * time.Minute
)

// Lifecycle points.
const (
	PreGenerate  = "pre_generate"
	PostGenerate = "post_generate"
	PreInstall   = "pre_install"
	PostInstall  = "post_install"
)

// Failure describes one hook command that did not succeed.
type Failure struct {
	Command  string        `json:"command"`
	Error    string        `json:"error"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes hook commands through a shell.
type Runner struct {
	Shell   string
	Timeout time.Duration
	// Env is appended to the process environment for every command.
	Env    []string
	Logger logging.Logger
}

// NewRunner creates a runner with the default shell and timeout.
func NewRunner(logger logging.Logger) *Runner {
	return &Runner{
		Shell:   DefaultShell,
		Timeout: DefaultTimeout,
		Logger:  logger,
	}
}

// Run executes commands in order inside dir. Every command runs even when an
// earlier one fails, unless ctx is done.
func (r *Runner) Run(ctx context.Context, dir string, commands []string, env []string) []Failure {
	logger := logging.OrDiscard(r.Logger).WithComponent("hooks")

	var failures []Failure
	for _, command := range commands {
		command = strings.TrimSpace(command)
		if command == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			failures = append(failures, Failure{Command: command, Error: err.Error()})
			continue
		}

		start := time.Now()
		output, err := r.run(ctx, dir, command, env)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn(ctx, err, "Hook failed", "command", command, "dir", dir)
			failures = append(failures, Failure{
				Command:  command,
				Error:    err.Error(),
				Output:   output,
				Duration: elapsed,
			})
			continue
		}
		logger.Debug(ctx, "Hook completed", "command", command, "duration", elapsed.String())
	}
	return failures
}

func (r *Runner) run(ctx context.Context, dir, command string, env []string) (string, error) {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = append(append(os.Environ(), r.Env...), env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out.String(), fmt.Errorf("hook timed out after %s", timeout)
		}
		return out.String(), err
	}
	return out.String(), nil
}

// Env converts a variable map into sorted PREFIX_KEY=value pairs, with keys
// in constant case. Nested values are skipped.
func Env(prefix string, vars map[string]interface{}) []string {
	out := make([]string, 0, len(vars))
	for key, value := range vars {
		switch value.(type) {
		case map[string]interface{}, []interface{}, nil:
			continue
		}
		out = append(out, fmt.Sprintf("%s%s=%v", prefix, textcase.Constant(key), value))
	}
	sort.Strings(out)
	return out
}
