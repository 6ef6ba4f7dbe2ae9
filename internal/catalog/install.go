package catalog

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/scaffolder/internal/descriptor"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/events"
	"github.com/conneroisu/scaffolder/internal/hooks"
	"github.com/conneroisu/scaffolder/internal/validation"
)

// InstallResult describes an Install call.
type InstallResult struct {
	Descriptor       *descriptor.Descriptor `json:"-"`
	Name             string                 `json:"name"`
	Version          string                 `json:"version"`
	Path             string                 `json:"path"`
	Origin           string                 `json:"origin"`
	AlreadyInstalled bool                   `json:"already_installed"`
	HookFailures     []hooks.Failure        `json:"hook_failures,omitempty"`
	Duration         time.Duration          `json:"duration"`
}

// Install materializes a template into destPath. An existing destPath counts
// as already installed. A failed install removes what it created.
func (c *Catalog) Install(ctx context.Context, name, version, destPath string) (*InstallResult, error) {
	start := time.Now()

	d, ok := c.Get(ctx, name, version)
	if !ok {
		return nil, scaffolderrors.ErrTemplateNotFound(name, version)
	}

	result := &InstallResult{
		Descriptor: d,
		Name:       d.Name,
		Version:    d.Version,
		Path:       destPath,
		Origin:     d.Origin,
	}

	if _, err := os.Stat(destPath); err == nil {
		result.AlreadyInstalled = true
		result.Duration = time.Since(start)
		c.logger.Info(ctx, "Template already installed", "template", d.Key(), "path", destPath)
		return result, nil
	}

	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return nil, scaffolderrors.NewInstallationError(scaffolderrors.ErrCodeDirectoryCreate,
			"cannot create install directory", err).WithPath(destPath)
	}

	if c.hooks != nil && len(d.Hooks.PreInstall) > 0 {
		result.HookFailures = append(result.HookFailures, c.hooks.Run(ctx, destPath, d.Hooks.PreInstall, nil)...)
	}

	installed, err := c.materialize(ctx, d, destPath)
	if err != nil {
		if rmErr := os.RemoveAll(destPath); rmErr != nil {
			c.logger.Warn(ctx, rmErr, "Failed to clean up partial install", "path", destPath)
		}
		return nil, err
	}
	result.Descriptor = installed

	if c.hooks != nil && len(d.Hooks.PostInstall) > 0 {
		result.HookFailures = append(result.HookFailures, c.hooks.Run(ctx, destPath, d.Hooks.PostInstall, nil)...)
	}
	for _, f := range result.HookFailures {
		c.logger.Warn(ctx, nil, "Install hook failed", "template", d.Key(), "command", f.Command, "error", f.Error)
	}

	c.lists.Clear()
	result.Duration = time.Since(start)

	c.events.Emit(events.TemplateInstalled, map[string]interface{}{
		"name":    d.Name,
		"version": d.Version,
		"origin":  d.Origin,
		"path":    destPath,
	})
	c.logger.Info(ctx, "Template installed",
		"template", d.Key(),
		"path", destPath,
		"duration", result.Duration.String(),
	)

	return result, nil
}

func (c *Catalog) materialize(ctx context.Context, d *descriptor.Descriptor, destPath string) (*descriptor.Descriptor, error) {
	if d.Origin == descriptor.OriginLocal || d.Origin == "" {
		if err := copyTree(d.Root, destPath); err != nil {
			return nil, scaffolderrors.NewInstallationError(scaffolderrors.ErrCodeInstallFailed,
				"failed to copy template", err).WithPath(d.Root)
		}
	} else {
		src := c.source(d.Origin)
		if src == nil {
			return nil, scaffolderrors.NewInstallationError(scaffolderrors.ErrCodeInstallFailed,
				fmt.Sprintf("unknown source %q", d.Origin), nil)
		}
		if err := src.Materialize(ctx, d, destPath); err != nil {
			return nil, scaffolderrors.NewInstallationError(scaffolderrors.ErrCodeInstallFailed,
				"failed to download template", err).WithContext("source", d.Origin)
		}
	}

	file := descriptor.Find(destPath, c.fileNames)
	if file == "" {
		return nil, scaffolderrors.NewInstallationError(scaffolderrors.ErrCodeInstallFailed,
			"installed template has no descriptor", nil).WithPath(destPath)
	}
	installed, err := descriptor.Load(file)
	if err != nil {
		return nil, scaffolderrors.NewInstallationError(scaffolderrors.ErrCodeInstallFailed,
			"installed descriptor is unreadable", err).WithPath(file)
	}
	return installed, nil
}

func (c *Catalog) source(name string) Source {
	for _, src := range c.sources {
		if src.Name() == name {
			return src
		}
	}
	return nil
}

// copyTree copies regular files and directories from src to dst, keeping
// permission bits. Symlinks and VCS directories are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(current string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(src, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && (d.Name() == ".git" || d.Name() == ".hg" || d.Name() == ".svn") {
			return filepath.SkipDir
		}

		target, err := validation.SafeJoin(dst, filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(current, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
