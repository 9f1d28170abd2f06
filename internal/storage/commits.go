// internal/storage/commits.go
package storage

import (
	"errors"
	"fmt"
	"sort"

	"muse/internal/model"

	"github.com/dgraph-io/badger/v4"
)

// MetadataStore is the narrow query surface the engines depend on.
// Engines only read; commit creation goes through the wider Store type.
type MetadataStore interface {
	GetCommit(id string) (*model.Commit, error)
	GetSnapshot(id string) (*model.Snapshot, error)
	FindCommitsByPrefix(prefix string) ([]*model.Commit, error)
	ListCommits(branch string) ([]*model.Commit, error)
}

// Store holds commit and snapshot rows in badger.
type Store struct {
	commits   *BadgerStore
	snapshots *BadgerStore
}

func NewStore(db *badger.DB) *Store {
	return &Store{
		commits:   NewBadgerStore(db, "commit"),
		snapshots: NewBadgerStore(db, "snapshot"),
	}
}

// commitEntity wraps model.Commit to implement Entity.
type commitEntity struct {
	*model.Commit
}

func (c *commitEntity) GetID() string {
	return c.ID
}

type snapshotEntity struct {
	*model.Snapshot
}

func (s *snapshotEntity) GetID() string {
	return s.ID
}

// GetCommit returns the commit row, or nil when no row exists. Absence
// is not an error: ancestry walks treat a missing parent as terminal.
func (s *Store) GetCommit(id string) (*model.Commit, error) {
	entity := commitEntity{Commit: &model.Commit{}}
	if err := s.commits.Get(id, &entity); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting commit: %w", err)
	}
	return entity.Commit, nil
}

// GetSnapshot returns the snapshot row, or nil when no row exists.
func (s *Store) GetSnapshot(id string) (*model.Snapshot, error) {
	entity := snapshotEntity{Snapshot: &model.Snapshot{}}
	if err := s.snapshots.Get(id, &entity); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}
	return entity.Snapshot, nil
}

// FindCommitsByPrefix returns every commit whose id starts with prefix,
// sorted by id for deterministic ambiguity reports.
func (s *Store) FindCommitsByPrefix(prefix string) ([]*model.Commit, error) {
	var entities []commitEntity
	if err := s.commits.ListByIDPrefix(prefix, &entities); err != nil {
		return nil, fmt.Errorf("finding commits by prefix: %w", err)
	}

	commits := make([]*model.Commit, len(entities))
	for i, entity := range entities {
		commits[i] = entity.Commit
	}
	sort.Slice(commits, func(i, j int) bool {
		return commits[i].ID < commits[j].ID
	})
	return commits, nil
}

// ListCommits returns commits, newest first. An empty branch matches
// every branch.
func (s *Store) ListCommits(branch string) ([]*model.Commit, error) {
	var entities []commitEntity
	if err := s.commits.List(&entities); err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}

	var commits []*model.Commit
	for _, entity := range entities {
		if branch != "" && entity.Branch != branch {
			continue
		}
		commits = append(commits, entity.Commit)
	}
	sort.Slice(commits, func(i, j int) bool {
		return commits[i].Timestamp.After(commits[j].Timestamp)
	})
	return commits, nil
}

// CreateCommit persists a commit row. Rows are immutable; creating the
// same id twice is an error.
func (s *Store) CreateCommit(c *model.Commit) error {
	if c.SnapshotID == "" {
		return fmt.Errorf("commit has no snapshot")
	}
	return s.commits.Create(&commitEntity{Commit: c})
}

// CreateSnapshot persists a snapshot row.
func (s *Store) CreateSnapshot(snap *model.Snapshot) error {
	return s.snapshots.Create(&snapshotEntity{Snapshot: snap})
}
