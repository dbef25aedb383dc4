package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/homesteadops/homestead/pkg/engine"
	"github.com/homesteadops/homestead/pkg/telemetry"
)

// Loader loads the catalog from disk and optionally watches the source for
// changes, swapping in a freshly built resolver on every successful reload.
type Loader struct {
	path    string
	log     *telemetry.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	catalog  *Catalog
	resolver *Resolver
}

// NewLoader creates a loader for a catalog file or directory.
func NewLoader(path string, log *telemetry.Logger) *Loader {
	return &Loader{
		path: path,
		log:  log.Component("catalog-loader"),
	}
}

// Load reads and validates the catalog, replacing the current resolver.
func (l *Loader) Load() error {
	catalog, err := LoadCatalog(l.path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.catalog = catalog
	l.resolver = NewResolver(catalog)
	l.mu.Unlock()

	l.log.Info().
		Str("path", l.path).
		Int("apps", len(catalog.Apps)).
		Msg("catalog loaded")
	return nil
}

// Resolver returns the current resolver. Callers get a consistent snapshot;
// a reload swaps the whole resolver rather than mutating it.
func (l *Loader) Resolver() *Resolver {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolver
}

// Catalog returns the current catalog snapshot.
func (l *Loader) Catalog() *Catalog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.catalog
}

// Watch starts watching the catalog source and reloads on change. It blocks
// until the context is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	info, err := os.Stat(l.path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to stat catalog path: %w", err)
	}
	if info.IsDir() {
		if err := watcher.Add(l.path); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch catalog directory: %w", err)
		}
	} else {
		// Watch the parent so editor rename-and-replace saves are seen.
		if err := watcher.Add(filepath.Dir(l.path)); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch catalog file: %w", err)
		}
	}

	l.processEvents(ctx)
	return nil
}

// processEvents debounces file system events into catalog reloads.
func (l *Loader) processEvents(ctx context.Context) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}

			l.log.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("catalog file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.Load(); err != nil {
					l.log.Error().Err(err).Msg("failed to reload catalog, keeping previous")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// The loader itself satisfies the engine's install planner contract by
// delegating to the current resolver snapshot, so a live catalog reload is
// picked up by the next plan request.

func (l *Loader) Has(appID string) bool {
	if r := l.Resolver(); r != nil {
		return r.Has(appID)
	}
	return false
}

func (l *Loader) ResolveDependencies(appID string) ([]string, error) {
	r := l.Resolver()
	if r == nil {
		return nil, engine.NewPreconditionError("catalog not loaded")
	}
	return r.ResolveDependencies(appID)
}

func (l *Loader) ResolveRemovalOrder(appID string, deployed []string, force bool) ([]string, error) {
	r := l.Resolver()
	if r == nil {
		return nil, engine.NewPreconditionError("catalog not loaded")
	}
	return r.ResolveRemovalOrder(appID, deployed, force)
}

// StopWatching closes the underlying watcher.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
