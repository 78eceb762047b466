package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // if true, walk roots and emit existing files
	Debounce    time.Duration // coalesce rapid create/write bursts per file
	Logger      *slog.Logger
}

// StartWatcher emits paths of supported documents that appear under the roots.
// A path is emitted once its writes have been quiet for Debounce.
func StartWatcher(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		logger.Error("ingest.watcher.no_roots")
		return nil, nil, errors.New("no roots provided")
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("ingest.watcher.create_failed", "error", err)
		return nil, nil, err
	}

	emit := func(p string) {
		select {
		case evCh <- p:
		default:
			logger.Warn("ingest.watcher.dropped", "path", p)
		}
	}

	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && IsHidden(path) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if cfg.InitialScan && wanted(path) {
				emit(path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("ingest.watcher.add_root_failed", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		var mu sync.Mutex
		timers := map[string]*time.Timer{}
		var pendingWG sync.WaitGroup

		defer func() {
			mu.Lock()
			for p, t := range timers {
				if t.Stop() {
					pendingWG.Done()
				}
				delete(timers, p)
			}
			mu.Unlock()
			pendingWG.Wait()
			close(evCh)
			close(errCh)
			if err := w.Close(); err != nil {
				logger.Warn("ingest.watcher.close_failed", "error", err)
			}
		}()

		schedule := func(p string) {
			if cfg.Debounce <= 0 {
				emit(p)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if t, ok := timers[p]; ok {
				if t.Stop() {
					pendingWG.Done()
				}
			}
			pendingWG.Add(1)
			timers[p] = time.AfterFunc(cfg.Debounce, func() {
				defer pendingWG.Done()
				mu.Lock()
				delete(timers, p)
				mu.Unlock()
				emit(p)
			})
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&fsnotify.Create == fsnotify.Create {
					tryAddDir(w, e.Name)
				}
				if wanted(e.Name) && e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					schedule(e.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("ingest.watcher.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func wanted(path string) bool {
	return !IsHidden(path) && AllowedExt(filepath.Ext(path))
}

// tryAddDir watches newly created directories; plain files fail silently.
func tryAddDir(w *fsnotify.Watcher, path string) {
	_ = w.Add(path)
}
