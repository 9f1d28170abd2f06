// internal/worktree/watcher.go
package worktree

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeEvent is one observed working-tree mutation.
type ChangeEvent struct {
	Path string // relative, forward-slash separated
	Op   string // create, write, remove, rename
}

// Watcher reports live working-tree changes. DAWs write project and
// bounce files continuously, so this is how a session surfaces dirty
// state without rescanning the whole tree.
type Watcher struct {
	tree    *Tree
	watcher *fsnotify.Watcher
	events  chan ChangeEvent
	logger  *zap.Logger
}

// NewWatcher starts watching the tree root and every directory under
// it. Events arrive on Events() until Close.
func NewWatcher(tree *Tree, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		tree:    tree,
		watcher: fsw,
		events:  make(chan ChangeEvent, 64),
		logger:  logger,
	}

	if err := w.addRecursive(tree.root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching working tree: %w", err)
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.events)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.tree.root, event.Name)
	if err != nil {
		w.logger.Warn("getting relative path", zap.String("name", event.Name), zap.Error(err))
		return
	}
	if strings.HasPrefix(filepath.Base(rel), ".obj-") {
		// Our own temp files from atomic restores.
		return
	}

	// New directories need to be watched too.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("watching new directory", zap.String("path", rel), zap.Error(err))
			}
			return
		}
	}

	op := ""
	switch {
	case event.Op&fsnotify.Create != 0:
		op = "create"
	case event.Op&fsnotify.Write != 0:
		op = "write"
	case event.Op&fsnotify.Remove != 0:
		op = "remove"
	case event.Op&fsnotify.Rename != 0:
		op = "rename"
	default:
		return
	}

	select {
	case w.events <- ChangeEvent{Path: filepath.ToSlash(rel), Op: op}:
	default:
		w.logger.Warn("dropping change event", zap.String("path", rel))
	}
}
