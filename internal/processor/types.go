// Package processor materializes a template source tree into a destination
// tree. Files are discovered up front, then copied or rendered by a bounded
// pool of workers; per-file failures are recorded and never abort siblings.
package processor

import (
	"io/fs"
	"time"

	"github.com/conneroisu/scaffolder/internal/cache"
	"github.com/conneroisu/scaffolder/internal/descriptor"
)

// Status is the outcome of one file job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// DefaultWorkerCap bounds the pool when Options.Workers is unset.
const DefaultWorkerCap = 8

// DefaultTemplateExtensions are rendered rather than copied.
var DefaultTemplateExtensions = []string{".tmpl", ".tpl", ".gotmpl"}

// DefaultExcludeDirs are never descended into.
var DefaultExcludeDirs = []string{".git", ".svn", ".hg", "node_modules", "dist", "build", ".cache", "__pycache__"}

// Filter decides whether a discovered file is processed. rel uses forward
// slashes.
type Filter func(rel string, info fs.FileInfo) bool

// TemplateRenderer renders template files. The compiler satisfies it.
type TemplateRenderer interface {
	RenderFile(path string, variables map[string]interface{}) (string, error)
	Stats() cache.Stats
}

// Options control one batch.
type Options struct {
	// MaxFileSize is the size ceiling in bytes. Zero disables it.
	MaxFileSize         int64
	PreservePermissions bool
	// SkipBinary copies binary files byte for byte, even when their
	// extension is a template extension.
	SkipBinary         bool
	Filters            []Filter
	TemplateExtensions []string
	StripTemplateExt   bool
	ExcludeDirs        []string
	// Exclude holds glob patterns matched against the relative path and the
	// base name.
	Exclude []string
	Rules   []descriptor.FileRule
	Workers int
}

// Job is one file to materialize.
type Job struct {
	ID          string
	Source      string
	Destination string
	Rel         string
	Variables   map[string]interface{}
	Options     *Options
	Handling    string
	Mode        fs.FileMode
}

// FileResult is the outcome of one Job.
type FileResult struct {
	JobID       string        `json:"job_id"`
	Source      string        `json:"source"`
	Destination string        `json:"destination"`
	Status      Status        `json:"status"`
	Duration    time.Duration `json:"duration"`
	Size        int64         `json:"size"`
	Error       string        `json:"error,omitempty"`
	Rendered    bool          `json:"rendered"`
}

// Metrics are derived from a finished batch.
type Metrics struct {
	Throughput   float64       `json:"throughput"`
	MeanFileTime time.Duration `json:"mean_file_time"`
	PeakMemory   uint64        `json:"peak_memory"`
	CacheHitRate float64       `json:"cache_hit_rate"`
}

// BatchResult aggregates every FileResult of a batch.
type BatchResult struct {
	Total    int           `json:"total"`
	Success  int           `json:"success"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
	Results  []FileResult  `json:"results"`
	Metrics  Metrics       `json:"metrics"`
}

// Failed returns the results with StatusError.
func (b *BatchResult) Failed() []FileResult {
	var out []FileResult
	for _, r := range b.Results {
		if r.Status == StatusError {
			out = append(out, r)
		}
	}
	return out
}
