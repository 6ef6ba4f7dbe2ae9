package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/scaffolder/internal/descriptor"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/logging"
)

const sniffLen = 1024

// Processor runs batches. It holds no per-batch state and is safe for
// concurrent use.
type Processor struct {
	renderer TemplateRenderer
	logger   logging.Logger

	// open is swapped in tests to inject read failures.
	open func(name string) (io.ReadCloser, error)
}

// New creates a processor that renders templates through renderer.
func New(renderer TemplateRenderer, logger logging.Logger) *Processor {
	return &Processor{
		renderer: renderer,
		logger:   logging.OrDiscard(logger).WithComponent("processor"),
		open: func(name string) (io.ReadCloser, error) {
			return os.Open(name)
		},
	}
}

// PoolSize returns min(available parallelism, configured cap).
func PoolSize(workers int) int {
	limit := workers
	if limit <= 0 {
		limit = DefaultWorkerCap
	}
	if n := runtime.NumCPU(); n < limit {
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// ProcessBatch materializes sourceDir into destDir. Only failing to create
// destDir or to enumerate sourceDir returns an error; per-file failures are
// reported in the result. Cancelling ctx stops new submissions, lets running
// jobs finish, and returns the partial result with ctx's error.
func (p *Processor) ProcessBatch(ctx context.Context, sourceDir, destDir string, vars map[string]interface{}, opts Options) (*BatchResult, error) {
	start := time.Now()
	if len(opts.TemplateExtensions) == 0 {
		opts.TemplateExtensions = DefaultTemplateExtensions
	}

	perf := logging.StartOperation(p.logger, "process_batch")

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, scaffolderrors.NewInfrastructureError(scaffolderrors.ErrCodeDirectoryCreate,
			"cannot create destination directory", err).WithPath(destDir)
	}

	files, err := p.discover(ctx, sourceDir, vars, &opts)
	if err != nil {
		return nil, scaffolderrors.NewIOError(scaffolderrors.ErrCodeFileRead,
			"cannot enumerate source directory", err).WithPath(sourceDir)
	}

	jobs := make([]*Job, 0, len(files))
	results := make([]FileResult, len(files))
	for _, f := range files {
		job, err := p.newJob(f, destDir, vars, &opts)
		if err != nil {
			results[len(jobs)] = FileResult{
				JobID:  uuid.NewString(),
				Source: f.abs,
				Status: StatusError,
				Error:  err.Error(),
			}
			jobs = append(jobs, nil)
			continue
		}
		jobs = append(jobs, job)
	}

	before := p.rendererStatsNow()

	var g errgroup.Group
	g.SetLimit(PoolSize(opts.Workers))

	submitted := 0
	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		submitted = i + 1
		if job == nil {
			continue
		}
		g.Go(func() error {
			results[i] = p.runJob(job)
			return nil
		})
	}
	_ = g.Wait()

	for i := submitted; i < len(jobs); i++ {
		if jobs[i] == nil {
			continue
		}
		results[i] = FileResult{
			JobID:       jobs[i].ID,
			Source:      jobs[i].Source,
			Destination: jobs[i].Destination,
			Status:      StatusSkipped,
			Error:       "cancelled before start",
		}
	}

	batch := aggregate(results, time.Since(start), hitRate(before, p.rendererStatsNow()))

	perf.End(ctx)
	p.logger.Info(ctx, "Batch processed",
		"total", batch.Total,
		"success", batch.Success,
		"skipped", batch.Skipped,
		"errors", batch.Errors,
		"duration", batch.Duration.String(),
	)

	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

func (p *Processor) newJob(f discovered, destDir string, vars map[string]interface{}, opts *Options) (*Job, error) {
	handling := descriptor.HandlingAuto
	var mode fs.FileMode
	if f.rule != nil {
		handling = f.rule.Type
		if f.rule.Permissions != "" {
			perm, err := descriptor.ParsePermissions(f.rule.Permissions)
			if err != nil {
				return nil, err
			}
			mode = fs.FileMode(perm)
		}
	}

	isTemplate := handling == descriptor.HandlingTemplate ||
		(handling == descriptor.HandlingAuto && hasExtension(opts.TemplateExtensions, filepath.Ext(f.abs)))

	dest, err := destinationFor(destDir, f, vars, opts, isTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid destination for %s: %w", f.rel, err)
	}

	return &Job{
		ID:          uuid.NewString(),
		Source:      f.abs,
		Destination: dest,
		Rel:         f.rel,
		Variables:   vars,
		Options:     opts,
		Handling:    handling,
		Mode:        mode,
	}, nil
}

// runJob never panics and never returns an error; every failure becomes an
// error result.
func (p *Processor) runJob(job *Job) (result FileResult) {
	start := time.Now()
	result = FileResult{
		JobID:       job.ID,
		Source:      job.Source,
		Destination: job.Destination,
	}

	defer func() {
		if rec := recover(); rec != nil {
			result.Status = StatusError
			result.Error = scaffolderrors.NewInternalError(scaffolderrors.ErrCodeInternalError,
				"panic while processing file", fmt.Errorf("%v", rec)).WithPath(job.Source).Error()
		}
		result.Duration = time.Since(start)
	}()

	if err := p.process(job, &result); err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		p.logger.Debug(context.Background(), "File failed", "source", job.Rel, "error", err.Error())
	}
	return result
}

func (p *Processor) process(job *Job, result *FileResult) error {
	opts := job.Options

	if err := os.MkdirAll(filepath.Dir(job.Destination), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	info, err := os.Stat(job.Source)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	result.Size = info.Size()

	if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
		result.Status = StatusSkipped
		result.Error = fmt.Sprintf("file size %d exceeds limit %d", info.Size(), opts.MaxFileSize)
		return nil
	}
	if !passesFilters(opts.Filters, job.Rel, info) {
		result.Status = StatusSkipped
		result.Error = "excluded by filter"
		return nil
	}

	render, err := p.shouldRender(job)
	if err != nil {
		return err
	}

	mode := fs.FileMode(0o644)
	if opts.PreservePermissions {
		mode = info.Mode().Perm()
	}
	if job.Mode != 0 {
		mode = job.Mode
	}

	if render {
		if p.renderer == nil {
			return fmt.Errorf("no template renderer configured")
		}
		out, err := p.renderer.RenderFile(job.Source, job.Variables)
		if err != nil {
			return err
		}
		if err := os.WriteFile(job.Destination, []byte(out), mode); err != nil {
			return fmt.Errorf("write rendered file: %w", err)
		}
		result.Rendered = true
		result.Size = int64(len(out))
	} else {
		if err := p.copyFile(job.Source, job.Destination, mode); err != nil {
			return err
		}
	}

	if opts.PreservePermissions || job.Mode != 0 {
		if err := os.Chmod(job.Destination, mode); err != nil {
			return fmt.Errorf("set permissions: %w", err)
		}
	}

	result.Status = StatusSuccess
	return nil
}

func (p *Processor) shouldRender(job *Job) (bool, error) {
	switch job.Handling {
	case descriptor.HandlingTemplate:
		return true, nil
	case descriptor.HandlingCopy:
		return false, nil
	}

	binary, err := p.isBinary(job.Source)
	if err != nil {
		return false, err
	}
	if binary && job.Options.SkipBinary {
		return false, nil
	}
	return hasExtension(job.Options.TemplateExtensions, filepath.Ext(job.Source)), nil
}

// isBinary classifies by the MIME type registered for the extension, then by
// a NUL byte in the first KiB.
func (p *Processor) isBinary(path string) (bool, error) {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" && !textMIME(t) {
		return true, nil
	}

	f, err := p.open(path)
	if err != nil {
		return false, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, fmt.Errorf("read source: %w", err)
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

func textMIME(t string) bool {
	t = strings.ToLower(strings.TrimSpace(strings.SplitN(t, ";", 2)[0]))
	if strings.HasPrefix(t, "text/") || strings.HasSuffix(t, "+xml") || strings.HasSuffix(t, "+json") {
		return true
	}
	switch t {
	case "application/json", "application/xml", "application/javascript",
		"application/x-javascript", "application/x-sh", "application/toml",
		"application/yaml", "application/x-yaml", "application/sql":
		return true
	}
	return false
}

func (p *Processor) copyFile(src, dst string, mode fs.FileMode) error {
	in, err := p.open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}

func (p *Processor) rendererStatsNow() rendererSnapshot {
	if p.renderer == nil {
		return rendererSnapshot{}
	}
	s := p.renderer.Stats()
	return rendererSnapshot{hits: s.Hits, misses: s.Misses}
}
