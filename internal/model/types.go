// internal/model/types.go
package model

import (
	"time"
)

// Manifest maps a working-tree-relative path (forward-slash separated)
// to the object id holding that file's content.
type Manifest map[string]string

// Snapshot is the full state of the working tree at one point in time.
// Immutable once written.
type Snapshot struct {
	ID        string    `json:"id"`
	Files     Manifest  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
}

// Commit links a snapshot to its parent(s). Parent2ID is set only for
// merge commits.
type Commit struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Parent2ID  string    `json:"parent2_id,omitempty"`
	SnapshotID string    `json:"snapshot_id"`
	Branch     string    `json:"branch"`
	Message    string    `json:"message"`
	Author     string    `json:"author"`
	Timestamp  time.Time `json:"timestamp"`
}

// Verdict is a bisect test outcome for one commit.
type Verdict string

const (
	VerdictGood Verdict = "good"
	VerdictBad  Verdict = "bad"
)

// ResetMode selects how much state a reset mutates.
type ResetMode string

const (
	// ResetSoft moves the branch ref only.
	ResetSoft ResetMode = "soft"
	// ResetMixed behaves like soft today; kept as a distinct mode for
	// interface symmetry with conventional VCS tools.
	ResetMixed ResetMode = "mixed"
	// ResetHard moves the ref and replaces the working tree.
	ResetHard ResetMode = "hard"
)

// ResetResult summarizes one reset operation.
type ResetResult struct {
	TargetCommit  string    `json:"target_commit"`
	Mode          ResetMode `json:"mode"`
	FilesRestored int       `json:"files_restored"`
	FilesDeleted  int       `json:"files_deleted"`
}

// RestoreResult summarizes one restore operation.
type RestoreResult struct {
	SourceCommit  string   `json:"source_commit"`
	FilesRestored []string `json:"files_restored"`
}

// DiffResult holds the manifest-level difference between two snapshots.
// All three lists are sorted lexicographically by path.
type DiffResult struct {
	Changed []string `json:"changed"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether the diff contains no differences.
func (d *DiffResult) Empty() bool {
	return len(d.Changed) == 0 && len(d.Added) == 0 && len(d.Removed) == 0
}
