// internal/worktree/tree.go
package worktree

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"muse/internal/model"
	"muse/internal/object"
	"muse/internal/vcserr"

	"go.uber.org/zap"
)

// Tree reads and mutates the working tree. All paths in manifests are
// forward-slash separated and relative to the tree root.
type Tree struct {
	root    string
	objects *object.Store
	logger  *zap.Logger
}

func NewTree(root string, objects *object.Store, logger *zap.Logger) *Tree {
	return &Tree{root: root, objects: objects, logger: logger}
}

// Root returns the absolute working-tree path.
func (t *Tree) Root() string {
	return t.root
}

// Scan hashes every file in the tree into a manifest without storing
// anything.
func (t *Tree) Scan() (model.Manifest, error) {
	manifest := model.Manifest{}

	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}

		id, err := object.HashFile(path)
		if err != nil {
			return err
		}
		manifest[filepath.ToSlash(rel)] = id
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return manifest, nil
		}
		return nil, fmt.Errorf("scanning working tree: %w", err)
	}

	return manifest, nil
}

// Capture stores every file in the tree as an object and returns the
// resulting manifest. Used by commit creation.
func (t *Tree) Capture() (model.Manifest, error) {
	manifest, err := t.Scan()
	if err != nil {
		return nil, err
	}

	for path, id := range manifest {
		created, err := t.objects.WriteFromPath(filepath.Join(t.root, filepath.FromSlash(path)), id)
		if err != nil {
			return nil, fmt.Errorf("capturing %s: %w", path, err)
		}
		if created {
			t.logger.Debug("stored object", zap.String("path", path), zap.String("object", id[:8]))
		}
	}
	return manifest, nil
}

// Validate checks that every object a manifest references exists in the
// store. The first missing object aborts with an ObjectMissing error
// naming the path that needed it; paths are checked in sorted order so
// the reported path is deterministic.
func (t *Tree) Validate(manifest model.Manifest) error {
	paths := sortedPaths(manifest)
	for _, path := range paths {
		if id := manifest[path]; !t.objects.Has(id) {
			return vcserr.ObjectMissing(id, path)
		}
	}
	return nil
}

// Apply replaces the working tree with the manifest's content: every
// manifest entry is written, every file not in the manifest is deleted,
// and directories left empty are removed. Callers must run Validate
// first; Apply assumes every object exists.
func (t *Tree) Apply(manifest model.Manifest) (restored, deleted int, err error) {
	for _, path := range sortedPaths(manifest) {
		id := manifest[path]
		dest := filepath.Join(t.root, filepath.FromSlash(path))
		ok, err := t.objects.Restore(id, dest)
		if err != nil {
			return restored, deleted, err
		}
		if !ok {
			// Validate ran before us, so this means the store mutated
			// underneath the operation.
			return restored, deleted, vcserr.ObjectMissing(id, path)
		}
		restored++
	}

	current, err := t.Scan()
	if err != nil {
		return restored, deleted, err
	}
	for path := range current {
		if _, ok := manifest[path]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(t.root, filepath.FromSlash(path))); err != nil {
			return restored, deleted, fmt.Errorf("removing %s: %w", path, err)
		}
		deleted++
	}

	if err := t.pruneEmptyDirs(); err != nil {
		return restored, deleted, err
	}
	return restored, deleted, nil
}

// WriteFiles writes a subset of a manifest's paths into the tree.
// Callers validate first, same as Apply.
func (t *Tree) WriteFiles(manifest model.Manifest, paths []string) error {
	for _, path := range paths {
		id, ok := manifest[path]
		if !ok {
			return vcserr.PathNotInSnapshot(path, "")
		}
		dest := filepath.Join(t.root, filepath.FromSlash(path))
		written, err := t.objects.Restore(id, dest)
		if err != nil {
			return err
		}
		if !written {
			return vcserr.ObjectMissing(id, path)
		}
	}
	return nil
}

// pruneEmptyDirs removes directories left empty after deletions,
// deepest first. The tree root itself is kept.
func (t *Tree) pruneEmptyDirs() error {
	var dirs []string
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != t.root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking for empty directories: %w", err)
	}

	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			if err := os.Remove(dir); err != nil {
				return fmt.Errorf("removing empty directory %s: %w", dir, err)
			}
		}
	}
	return nil
}

func sortedPaths(manifest model.Manifest) []string {
	paths := make([]string, 0, len(manifest))
	for path := range manifest {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
