package hooks

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a changed hook file is reloaded.
const DefaultDebounce = 500 * time.Millisecond

// Watch reloads the engine when one of its hook files changes, until ctx is
// done. The directories holding the files are watched so files created
// after startup are picked up. onReload, when set, runs after each reload.
func (e *Engine) Watch(ctx context.Context, debounce time.Duration, onReload func(error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, name := range e.Files() {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(e.cwd, name)
		}
		targets[filepath.Clean(p)] = true
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			e.log.V(1).Info("not watching hook directory", "dir", dir, "error", err.Error())
		}
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(ev.Name)] {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				err := e.Reload()
				e.log.Info("hook files reloaded", "cwd", e.cwd, "rules", e.Set().Len())
				if onReload != nil {
					onReload(err)
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.log.Error(err, "hook watcher error", "cwd", e.cwd)
		}
	}
}
