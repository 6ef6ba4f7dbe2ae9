package catalog

import (
	"context"
	"os"

	"github.com/conneroisu/scaffolder/internal/events"
	"github.com/conneroisu/scaffolder/internal/watcher"
)

// Watch invalidates cached descriptors as descriptor files change below the
// configured directories. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(c.delay, c.logger)
	if err != nil {
		return err
	}

	watched := 0
	for _, dir := range c.dirs {
		if _, err := os.Stat(dir); err != nil {
			c.logger.Debug(ctx, "Not watching missing directory", "dir", dir)
			continue
		}
		if err := fw.AddRecursive(dir); err != nil {
			fw.Stop()
			return err
		}
		watched++
	}

	fw.AddFilter(watcher.NameFilter(c.fileNames...))
	fw.AddHandler(func(ctx context.Context, changes []watcher.ChangeEvent) error {
		paths := make([]string, len(changes))
		for i, change := range changes {
			paths[i] = change.Path
			c.Invalidate(change.Path)
		}
		c.logger.Info(ctx, "Catalog invalidated", "changes", len(changes))
		c.events.Emit(events.CatalogInvalidated, map[string]interface{}{"paths": paths})
		return nil
	})

	c.logger.Info(ctx, "Watching template directories", "dirs", watched)
	return fw.Run(ctx)
}
