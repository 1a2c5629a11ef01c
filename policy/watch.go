package policy

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts watching the policy file's directory (not the file
// itself — editors commonly replace-on-write, which orphans a direct
// file watch) and calls Refresh whenever the configured path changes.
// It returns immediately; call StopWatch (or cancel ctx) to end the watch.
func (g *Gate) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(g.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	g.mu.Lock()
	if g.watching {
		g.mu.Unlock()
		watcher.Close()
		return nil
	}
	g.watching = true
	g.stopCh = make(chan struct{})
	stopCh := g.stopCh
	g.mu.Unlock()

	target := filepath.Clean(g.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					g.Refresh(ctx)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.logger.WarnWithContext(ctx, "policy: watcher error", map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	return nil
}

// StopWatch ends a watch started with Watch. Safe to call even if no
// watch is running.
func (g *Gate) StopWatch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.watching {
		return
	}
	close(g.stopCh)
	g.watching = false
}
