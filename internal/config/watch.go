package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/piedpiper/internal/cost"
)

// PricingWatcher reloads a pricing rate table when its file changes, so a
// long session picks up rate corrections without a restart.
type PricingWatcher struct {
	path    string
	pricing *cost.Pricing

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchPricing starts watching the rate table at path. Editors replace
// files rather than writing in place, so the watch is on the parent
// directory and events are filtered by name.
func WatchPricing(path string, pricing *cost.Pricing) (*PricingWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create pricing watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch pricing directory: %w", err)
	}

	pw := &PricingWatcher{
		path:    path,
		pricing: pricing,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go pw.watch()
	return pw, nil
}

// watch applies reloads on create/write events for the rate table file.
// Reload errors keep the previous rates, so a half-written file cannot
// poison the table.
func (pw *PricingWatcher) watch() {
	for {
		select {
		case <-pw.done:
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(pw.path) {
				continue
			}
			if event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0 {
				pw.pricing.Reload(pw.path)
			}
		case <-pw.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// Close stops the watcher.
func (pw *PricingWatcher) Close() {
	close(pw.done)
	pw.watcher.Close()
}
