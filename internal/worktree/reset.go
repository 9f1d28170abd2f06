// internal/worktree/reset.go
package worktree

import (
	"fmt"
	"os"
	"path/filepath"

	"muse/internal/model"
	"muse/internal/refs"
	"muse/internal/storage"
	"muse/internal/vcserr"

	"go.uber.org/zap"
)

const mergeStateFile = "MERGE_STATE.json"

// Engine performs the ref-and-tree mutations: reset, restore, and
// checkout. It owns no storage; everything goes through the tree, the
// refs, and the metadata store handed to it.
type Engine struct {
	tree     *Tree
	refs     *refs.Refs
	resolver *refs.Resolver
	meta     storage.MetadataStore
	museDir  string
	logger   *zap.Logger
}

func NewEngine(tree *Tree, r *refs.Refs, resolver *refs.Resolver, meta storage.MetadataStore, museDir string, logger *zap.Logger) *Engine {
	return &Engine{
		tree:     tree,
		refs:     r,
		resolver: resolver,
		meta:     meta,
		museDir:  museDir,
		logger:   logger,
	}
}

// TreeRoot returns the absolute working-tree path.
func (e *Engine) TreeRoot() string {
	return e.tree.root
}

// MergeInProgress reports whether a merge marker is present. Any reset
// is refused while one exists, regardless of mode.
func (e *Engine) MergeInProgress() bool {
	_, err := os.Stat(filepath.Join(e.museDir, mergeStateFile))
	return err == nil
}

// Reset moves the current branch ref to the target commit. Soft and
// mixed touch the ref only (no staging index exists, so mixed is soft
// under another name). Hard additionally replaces the working tree:
// every target object is validated before any file is written, and the
// ref moves only after the tree has been fully replaced.
func (e *Engine) Reset(ref string, mode model.ResetMode) (*model.ResetResult, error) {
	if e.MergeInProgress() {
		return nil, vcserr.MergeInProgress()
	}

	targetID, err := e.resolver.Resolve(ref)
	if err != nil {
		return nil, err
	}

	result := &model.ResetResult{TargetCommit: targetID, Mode: mode}

	if mode == model.ResetHard {
		snapshot, err := e.loadSnapshot(targetID)
		if err != nil {
			return nil, err
		}

		if err := e.tree.Validate(snapshot.Files); err != nil {
			return nil, err
		}

		restored, deleted, err := e.tree.Apply(snapshot.Files)
		if err != nil {
			return nil, err
		}
		result.FilesRestored = restored
		result.FilesDeleted = deleted
	}

	if err := e.moveHead(targetID); err != nil {
		return nil, err
	}

	e.logger.Info("reset complete",
		zap.String("target", targetID[:8]),
		zap.String("mode", string(mode)),
		zap.Int("restored", result.FilesRestored),
		zap.Int("deleted", result.FilesDeleted))
	return result, nil
}

// Checkout materializes a commit's snapshot into the working tree and
// detaches HEAD at it. Used by bisect to test candidates.
func (e *Engine) Checkout(commitID string) error {
	snapshot, err := e.loadSnapshot(commitID)
	if err != nil {
		return err
	}
	if err := e.tree.Validate(snapshot.Files); err != nil {
		return err
	}
	if _, _, err := e.tree.Apply(snapshot.Files); err != nil {
		return err
	}
	return e.refs.SetHEADDetached(commitID)
}

func (e *Engine) moveHead(commitID string) error {
	head, err := e.refs.ReadHEAD()
	if err != nil {
		return err
	}
	if head.Detached() {
		return e.refs.SetHEADDetached(commitID)
	}
	return e.refs.SetBranch(head.Branch, commitID)
}

func (e *Engine) loadSnapshot(commitID string) (*model.Snapshot, error) {
	commit, err := e.meta.GetCommit(commitID)
	if err != nil {
		return nil, err
	}
	if commit == nil {
		return nil, vcserr.CommitNotFound(commitID)
	}

	snapshot, err := e.meta.GetSnapshot(commit.SnapshotID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, fmt.Errorf("commit %s references missing snapshot %s", commitID[:8], commit.SnapshotID)
	}
	return snapshot, nil
}
