// Package watch re-runs the audit pipeline when the target tree changes.
// Filesystem events are debounced so a burst of writes triggers one run.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/complianced/internal/config"
	"github.com/fyrsmithlabs/complianced/internal/gates"
	"github.com/fyrsmithlabs/complianced/internal/logging"
)

// ResultFunc receives the results of each triggered audit run.
type ResultFunc func(results []gates.GateResult)

// Watcher drives audit runs off filesystem events.
type Watcher struct {
	cfg    *config.Config
	engine *gates.Engine
	logger *logging.Logger
	onRun  ResultFunc
}

// New builds a watcher. onRun is invoked after every triggered run; logger
// may be nil.
func New(cfg *config.Config, engine *gates.Engine, logger *logging.Logger, onRun ResultFunc) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{cfg: cfg, engine: engine, logger: logger.Named("watch"), onRun: onRun}
}

// Run watches target until the context is cancelled. New directories are
// added to the watch as they appear; paths under skip fragments are
// ignored.
func (w *Watcher) Run(ctx context.Context, target string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, target); err != nil {
		return err
	}
	w.logger.Info("watching for changes",
		zap.String("target", target), zap.Duration("debounce", w.cfg.Debounce()))

	debounce := w.cfg.Debounce()
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.shouldSkip(event.Name) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(watchErr))

		case <-timer.C:
			w.logger.Info("change detected, running audit")
			results := w.engine.RunAll(ctx, target)
			if w.onRun != nil {
				w.onRun(results)
			}
		}
	}
}

// addTree registers target and every non-skipped subdirectory.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, target string) error {
	return filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldSkip(path) {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(path); addErr != nil {
			return fmt.Errorf("failed to watch %s: %w", path, addErr)
		}
		return nil
	})
}

func (w *Watcher) shouldSkip(path string) bool {
	for _, frag := range w.cfg.Gates.SkipFragments {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}
