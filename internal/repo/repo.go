// internal/repo/repo.go
package repo

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"muse/internal/bisect"
	"muse/internal/config"
	"muse/internal/logging"
	"muse/internal/model"
	"muse/internal/object"
	"muse/internal/refs"
	"muse/internal/storage"
	"muse/internal/vcserr"
	"muse/internal/worktree"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	metaDirName   = ".muse"
	defaultBranch = "main"
)

// ErrDetachedHead marks commit attempts from a detached HEAD.
var ErrDetachedHead = errors.New("cannot commit with detached HEAD; check out a branch first")

// Repo is the explicit handle every operation runs against. There is
// no process-wide repository state; open one, use it, close it.
type Repo struct {
	Root    string
	MuseDir string
	Config  *config.Config
	Logger  *zap.Logger

	DB       *badger.DB
	Objects  *object.Store
	Store    *storage.Store
	Refs     *refs.Refs
	Resolver *refs.Resolver
	Tree     *worktree.Tree
	Worktree *worktree.Engine
	Bisect   *bisect.Engine
}

// Init creates a fresh repository at root: the .muse metadata layout,
// an empty main branch checked out, and the working tree directory.
func Init(root string) error {
	museDir := filepath.Join(root, metaDirName)
	if _, err := os.Stat(filepath.Join(museDir, "HEAD")); err == nil {
		return fmt.Errorf("repository already exists at %s", root)
	}

	dirs := []string{
		filepath.Join(museDir, "objects"),
		filepath.Join(museDir, "refs", "heads"),
		filepath.Join(museDir, "db"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	cfg := config.Default()
	if err := config.Save(filepath.Join(museDir, "config.json"), cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(root, cfg.WorkDir), 0755); err != nil {
		return fmt.Errorf("creating working tree: %w", err)
	}

	r := refs.New(museDir)
	if err := r.SetBranch(defaultBranch, ""); err != nil {
		return err
	}
	return r.SetHEADBranch(defaultBranch)
}

// FindRoot walks up from startDir looking for a .muse directory.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, metaDirName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", vcserr.NotARepository()
}

// Open wires a Repo over an existing repository root.
func Open(root string) (*Repo, error) {
	museDir := filepath.Join(root, metaDirName)
	if _, err := os.Stat(museDir); err != nil {
		return nil, vcserr.NotARepository()
	}

	cfg, err := config.Load(filepath.Join(museDir, "config.json"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = config.Default()
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(museDir, "db"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}

	objects, err := object.New(object.Options{Root: filepath.Join(museDir, "objects")})
	if err != nil {
		db.Close()
		return nil, err
	}

	store := storage.NewStore(db)
	r := refs.New(museDir)
	resolver := refs.NewResolver(r, store)
	tree := worktree.NewTree(filepath.Join(root, cfg.WorkDir), objects, logger)
	wtEngine := worktree.NewEngine(tree, r, resolver, store, museDir, logger)

	return &Repo{
		Root:     root,
		MuseDir:  museDir,
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Objects:  objects,
		Store:    store,
		Refs:     r,
		Resolver: resolver,
		Tree:     tree,
		Worktree: wtEngine,
		Bisect:   bisect.NewEngine(museDir, r, resolver, store, wtEngine, logger),
	}, nil
}

func (r *Repo) Close() error {
	r.Logger.Sync()
	return r.DB.Close()
}

// Commit captures the working tree as a snapshot and appends a commit
// to the current branch. Detached HEAD cannot commit.
func (r *Repo) Commit(message string) (*model.Commit, error) {
	head, err := r.Refs.ReadHEAD()
	if err != nil {
		return nil, err
	}
	if head.Detached() {
		return nil, ErrDetachedHead
	}

	parent, err := r.Refs.ReadBranch(head.Branch)
	if err != nil {
		return nil, err
	}

	files, err := r.Tree.Capture()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	snapshot := &model.Snapshot{
		ID:        snapshotID(files, now),
		Files:     files,
		CreatedAt: now,
	}

	commit := &model.Commit{
		ParentID:   parent,
		SnapshotID: snapshot.ID,
		Branch:     head.Branch,
		Message:    message,
		Author:     r.Config.Author.Name,
		Timestamp:  now,
	}
	commit.ID = commitID(commit)

	if err := r.Store.CreateSnapshot(snapshot); err != nil {
		return nil, err
	}
	if err := r.Store.CreateCommit(commit); err != nil {
		return nil, err
	}
	if err := r.Refs.SetBranch(head.Branch, commit.ID); err != nil {
		return nil, err
	}

	r.Logger.Info("commit created",
		zap.String("id", commit.ID[:8]),
		zap.String("branch", head.Branch),
		zap.Int("files", len(files)))
	return commit, nil
}

// Log lists the current branch's commits, newest first.
func (r *Repo) Log() ([]*model.Commit, error) {
	head, err := r.Refs.ReadHEAD()
	if err != nil {
		return nil, err
	}
	branch := head.Branch
	if branch == "" {
		// Detached: list everything and let the caller filter.
		return r.Store.ListCommits("")
	}
	return r.Store.ListCommits(branch)
}

// CreateBranch points a new branch at the given ref (default HEAD).
func (r *Repo) CreateBranch(name, at string) error {
	if r.Refs.BranchExists(name) {
		return fmt.Errorf("branch %s already exists", name)
	}
	if at == "" {
		at = "HEAD"
	}
	commitID, err := r.Resolver.Resolve(at)
	if err != nil {
		return err
	}
	return r.Refs.SetBranch(name, commitID)
}

// Checkout switches to a branch (attaching HEAD and replacing the
// tree) or detaches HEAD at any other resolvable ref.
func (r *Repo) Checkout(ref string) error {
	if r.Refs.BranchExists(ref) {
		commitID, err := r.Refs.ReadBranch(ref)
		if err != nil {
			return err
		}
		if commitID != "" {
			if err := r.Worktree.Checkout(commitID); err != nil {
				return err
			}
		}
		return r.Refs.SetHEADBranch(ref)
	}

	commitID, err := r.Resolver.Resolve(ref)
	if err != nil {
		return err
	}
	return r.Worktree.Checkout(commitID)
}

// HeadManifest returns HEAD's snapshot manifest, or an empty manifest
// when the branch has no commits yet.
func (r *Repo) HeadManifest() (model.Manifest, error) {
	head, err := r.Refs.HeadCommit()
	if err != nil || head == "" {
		return model.Manifest{}, nil
	}

	commit, err := r.Store.GetCommit(head)
	if err != nil || commit == nil {
		return model.Manifest{}, err
	}
	snapshot, err := r.Store.GetSnapshot(commit.SnapshotID)
	if err != nil || snapshot == nil {
		return model.Manifest{}, err
	}
	return snapshot.Files, nil
}

// ManifestAt returns the manifest of an arbitrary ref.
func (r *Repo) ManifestAt(ref string) (model.Manifest, string, error) {
	id, err := r.Resolver.Resolve(ref)
	if err != nil {
		return nil, "", err
	}
	commit, err := r.Store.GetCommit(id)
	if err != nil {
		return nil, "", err
	}
	if commit == nil {
		return nil, "", vcserr.CommitNotFound(ref)
	}
	snapshot, err := r.Store.GetSnapshot(commit.SnapshotID)
	if err != nil {
		return nil, "", err
	}
	if snapshot == nil {
		return nil, "", fmt.Errorf("commit %s references missing snapshot %s", id[:8], commit.SnapshotID)
	}
	return snapshot.Files, id, nil
}

// IsNotRepository reports whether err means "no repository here".
func IsNotRepository(err error) bool {
	var verr *vcserr.Error
	return errors.As(err, &verr) && verr.Kind == vcserr.KindNotARepository
}

// commitID derives the id from a canonical payload of the commit's
// immutable fields, so ids are stable across machines.
func commitID(c *model.Commit) string {
	payload := fmt.Sprintf("commit\x00%s\x00%s\x00%s\x00%s\x00%s\x00%d",
		c.ParentID, c.Parent2ID, c.SnapshotID, c.Author, c.Message, c.Timestamp.UnixNano())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func snapshotID(files model.Manifest, at time.Time) string {
	h := sha256.New()
	for _, path := range sortedKeys(files) {
		fmt.Fprintf(h, "%s\x00%s\x00", path, files[path])
	}
	fmt.Fprintf(h, "%d", at.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m model.Manifest) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
