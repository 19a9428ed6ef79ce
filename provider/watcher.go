package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yllada/vpn-ondemand/common"
)

// Import reads the YAML catalog at path and saves it into store.
func Import(ctx context.Context, store *Store, path string) (*Catalog, error) {
	cat, err := ReadCatalogFile(path)
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, cat); err != nil {
		return nil, fmt.Errorf("failed to store catalog: %w", err)
	}
	common.LogInfo("Imported catalog %s (%d providers)", path, len(cat.Providers()))
	return cat, nil
}

// Watcher re-imports a catalog source into a store whenever the file changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	store    *Store
	path     string
	debounce time.Duration
	onReload func(*Catalog, error)
}

// NewWatcher watches the directory containing path, so editors that
// replace the file instead of writing it in place are still noticed.
// onReload, if non-nil, is called after every import attempt.
func NewWatcher(store *Store, path string, onReload func(*Catalog, error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		watcher:  w,
		store:    store,
		path:     abs,
		debounce: common.CatalogReloadDebounce,
		onReload: onReload,
	}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	stopTimer := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			common.LogWarn("Catalog watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cat, err := Import(ctx, w.store, w.path)
	if err != nil {
		common.LogError("Catalog reload failed: %v", err)
	}
	if w.onReload != nil {
		w.onReload(cat, err)
	}
}
