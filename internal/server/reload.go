package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs editor write bursts before reloading.
const reloadDebounce = 500 * time.Millisecond

// Reloader hot-reloads the server when the security config or the
// pattern file changes on disk. It watches parent directories rather
// than the files themselves: editors replace files by rename, which
// drops a watch on the old inode, and the pattern file may not exist
// yet when the server starts. After every reload the watch set is
// re-resolved from the server, so a changed patterns_path takes
// effect without a restart.
type Reloader struct {
	watcher *fsnotify.Watcher
	server  *Server
	names   map[string]bool // watched file base names
}

// NewReloader creates a watcher over the directories holding the
// server's reloadable files.
func NewReloader(server *Server) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	r := &Reloader{watcher: watcher, server: server, names: make(map[string]bool)}
	if err := r.resolve(); err != nil {
		watcher.Close()
		return nil, err
	}
	return r, nil
}

// resolve syncs the watched directories and file names with the
// server's current watch paths.
func (r *Reloader) resolve() error {
	dirs := make(map[string]bool)
	names := make(map[string]bool)
	for _, p := range r.server.WatchPaths() {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(p)] = true
		names[filepath.Base(p)] = true
	}

	watched := make(map[string]bool)
	for _, d := range r.watcher.WatchList() {
		watched[d] = true
	}
	for d := range dirs {
		if watched[d] {
			continue
		}
		if _, err := os.Stat(d); err != nil {
			continue
		}
		if err := r.watcher.Add(d); err != nil {
			return fmt.Errorf("watch %q: %w", d, err)
		}
	}
	for d := range watched {
		if !dirs[d] {
			r.watcher.Remove(d)
		}
	}

	r.names = names
	return nil
}

// relevant reports whether the event touches one of the reloadable
// files, as opposed to a sibling in a watched directory.
func (r *Reloader) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return r.names[filepath.Base(event.Name)]
}

// Run blocks until ctx is cancelled, reloading the server after each
// debounced change.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := r.server.ReloadConfig(); err != nil {
					fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
					return
				}
				fmt.Fprintf(os.Stderr, "hot-reload: config reloaded\n")
				if err := r.resolve(); err != nil {
					fmt.Fprintf(os.Stderr, "hot-reload: refresh watches: %v\n", err)
				}
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "file watcher error: %v\n", err)
		}
	}
}
