package profile

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch watches the catalog root directory for profile file changes and
// emits the namespaced ref (the same key Resolve/List use) of each
// profile that was created or modified, until ctx is cancelled. This
// supplements spec.md §6's static "load once" description with a live
// reload path for long-running benches, grounded on the teacher's
// Scheduler.Reload(cfg) idiom — the catalog doesn't re-resolve profiles
// itself; callers reload and swap as they see fit.
//
// Watch requires an OS-backed catalog (NewOSCatalog): fsnotify watches
// real filesystem paths, not the afero.Fs abstraction Resolve/List use.
func (c *Catalog) Watch(ctx context.Context) (<-chan string, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(c.root); err != nil {
		_ = w.Close()
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				ext := filepath.Ext(ev.Name)
				if ext != ".yaml" && ext != ".yml" {
					continue
				}
				rel, err := filepath.Rel(c.root, ev.Name)
				if err != nil {
					continue
				}
				ref := strings.TrimSuffix(filepath.ToSlash(rel), ext)
				select {
				case out <- ref:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.logger.Warn("profile: catalog watch error", "error", err.Error())
			}
		}
	}()
	return out, nil
}
