package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"gwi.com/journal-companion/internal/store"
)

const DefaultWatchDebounce = 500 * time.Millisecond

// FileImporter applies journal file changes to the store.
type FileImporter interface {
	ImportFile(ctx context.Context, path string) (*store.Entry, bool, error)
	RemoveFile(ctx context.Context, path string) error
}

// JournalWatcher re-imports markdown files edited outside the API.
type JournalWatcher struct {
	dir      string
	importer FileImporter
	debounce time.Duration
	logger   *slog.Logger
}

func NewJournalWatcher(dir string, importer FileImporter, debounce time.Duration, logger *slog.Logger) *JournalWatcher {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalWatcher{dir: dir, importer: importer, debounce: debounce, logger: logger}
}

// Run watches until ctx is cancelled. Events are batched per debounce window
// and each changed path is handled once.
func (w *JournalWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching journal directory", "dir", w.dir, "debounce", w.debounce)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	changed := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isJournalEvent(event) {
				continue
			}
			if len(changed) == 0 {
				timer.Reset(w.debounce)
			}
			changed[event.Name] = true
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("journal watch error", "error", err)
		case <-timer.C:
			w.flush(ctx, changed)
			changed = make(map[string]bool)
		}
	}
}

func (w *JournalWatcher) flush(ctx context.Context, changed map[string]bool) {
	paths := make([]string, 0, len(changed))
	for p := range changed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		w.apply(ctx, p)
	}
}

func (w *JournalWatcher) apply(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := w.importer.RemoveFile(ctx, path); err != nil {
			w.logger.Warn("failed to remove entry for deleted file", "path", path, "error", err)
		}
		return
	}
	if _, _, err := w.importer.ImportFile(ctx, path); err != nil {
		w.logger.Warn("failed to import journal file", "path", path, "error", err)
	}
}

func isJournalEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	return strings.HasSuffix(base, ".md") && !strings.HasPrefix(base, ".")
}
