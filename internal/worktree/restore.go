// internal/worktree/restore.go
package worktree

import (
	"path/filepath"
	"strings"

	"muse/internal/model"
	"muse/internal/vcserr"

	"go.uber.org/zap"
)

// Restore brings specific paths back from a historical snapshot into
// the working tree without moving any ref. sourceRef defaults to HEAD.
// Every requested path is validated against the snapshot manifest and
// the object store before any file is written: one bad path means
// nothing is restored.
//
// staged is accepted for interface compatibility but behaves like the
// default until a separate index exists.
func (e *Engine) Restore(paths []string, sourceRef string, staged bool) (*model.RestoreResult, error) {
	if sourceRef == "" {
		sourceRef = "HEAD"
	}
	commitID, err := e.resolver.Resolve(sourceRef)
	if err != nil {
		return nil, err
	}

	snapshot, err := e.loadSnapshot(commitID)
	if err != nil {
		return nil, err
	}

	normalized := make([]string, len(paths))
	for i, path := range paths {
		normalized[i] = e.normalizePath(path)
	}

	// Full validation pass before any write.
	for _, path := range normalized {
		id, ok := snapshot.Files[path]
		if !ok {
			return nil, vcserr.PathNotInSnapshot(path, commitID)
		}
		if !e.tree.objects.Has(id) {
			return nil, vcserr.ObjectMissing(id, path)
		}
	}

	if err := e.tree.WriteFiles(snapshot.Files, normalized); err != nil {
		return nil, err
	}

	e.logger.Info("restore complete",
		zap.String("source", commitID[:8]),
		zap.Int("files", len(normalized)))
	return &model.RestoreResult{
		SourceCommit:  commitID,
		FilesRestored: normalized,
	}, nil
}

// normalizePath converts a caller-supplied path into a manifest key:
// forward slashes, no leading working-tree directory prefix (callers
// often pass "muse-work/tracks/x.mid" from the repository root).
func (e *Engine) normalizePath(path string) string {
	p := filepath.ToSlash(path)
	workdir := filepath.Base(e.tree.root) + "/"
	if rest, ok := strings.CutPrefix(p, workdir); ok {
		return rest
	}
	return p
}
