package refs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"muse/internal/model"
	"muse/internal/storage"
	"muse/internal/vcserr"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupResolver(t *testing.T) (*Refs, *storage.Store, *Resolver) {
	t.Helper()

	museDir := filepath.Join(t.TempDir(), ".muse")
	require.NoError(t, os.MkdirAll(museDir, 0755))

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	refs := New(museDir)
	store := storage.NewStore(db)
	return refs, store, NewResolver(refs, store)
}

// chain creates commits c0 <- c1 <- ... and points main + HEAD at the tip.
func chain(t *testing.T, refs *Refs, store *storage.Store, ids ...string) {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	parent := ""
	for i, id := range ids {
		require.NoError(t, store.CreateCommit(&model.Commit{
			ID:         id,
			ParentID:   parent,
			SnapshotID: "snap-" + id,
			Branch:     "main",
			Message:    "take " + id[:4],
			Author:     "tester",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}))
		parent = id
	}
	require.NoError(t, refs.SetBranch("main", parent))
	require.NoError(t, refs.SetHEADBranch("main"))
}

// hexID pads a short marker into a full 64-char hex id.
func hexID(marker string) string {
	return marker + strings.Repeat("0", 64-len(marker))
}

func TestResolveHEAD(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	a, b := hexID("aa"), hexID("bb")
	chain(t, refs, store, a, b)

	id, err := resolver.Resolve("HEAD")
	require.NoError(t, err)
	assert.Equal(t, b, id)
}

func TestResolveTildeWalksPrimaryParent(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	a, b, c, d := hexID("aa"), hexID("bb"), hexID("cc"), hexID("dd")
	chain(t, refs, store, a, b, c, d)

	id, err := resolver.Resolve("HEAD~2")
	require.NoError(t, err)
	assert.Equal(t, b, id)

	id, err = resolver.Resolve("HEAD~0")
	require.NoError(t, err)
	assert.Equal(t, d, id)
}

func TestResolveTildePastRoot(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	chain(t, refs, store, hexID("aa"), hexID("bb"))

	_, err := resolver.Resolve("HEAD~5")
	var verr *vcserr.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, vcserr.KindCommitNotFound, verr.Kind)
}

func TestResolveBranchName(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	a := hexID("aa")
	chain(t, refs, store, a)
	require.NoError(t, refs.SetBranch("mix-v2", a))

	id, err := resolver.Resolve("mix-v2")
	require.NoError(t, err)
	assert.Equal(t, a, id)
}

func TestResolveFullID(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	a := hexID("aa")
	chain(t, refs, store, a)

	id, err := resolver.Resolve(a)
	require.NoError(t, err)
	assert.Equal(t, a, id)
}

func TestResolvePrefix(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	a, b := hexID("aabb"), hexID("aacc")
	chain(t, refs, store, a, b)

	id, err := resolver.Resolve("aabb")
	require.NoError(t, err)
	assert.Equal(t, a, id)
}

func TestResolvePrefixTooShort(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	chain(t, refs, store, hexID("aabb"))

	// Prefixes under 4 hex chars never match commits.
	_, err := resolver.Resolve("aab")
	var verr *vcserr.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, vcserr.KindCommitNotFound, verr.Kind)
}

func TestResolveAmbiguousPrefixNamesCandidates(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	chain(t, refs, store, hexID("abcd11"), hexID("abcd22"))

	_, err := resolver.Resolve("abcd")
	var verr *vcserr.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, vcserr.KindAmbiguousRef, verr.Kind)
	assert.Len(t, verr.Candidates, 2)
}

func TestResolveUnknownRef(t *testing.T) {
	_, _, resolver := setupResolver(t)

	_, err := resolver.Resolve("no-such-branch")
	var verr *vcserr.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, vcserr.KindCommitNotFound, verr.Kind)
}

func TestAncestorsFollowsBothParents(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	a, b, c := hexID("aa"), hexID("bb"), hexID("cc")
	chain(t, refs, store, a, b)

	// c merges b with an out-of-line parent that has no stored row.
	require.NoError(t, store.CreateCommit(&model.Commit{
		ID:         c,
		ParentID:   b,
		Parent2ID:  hexID("ee"),
		SnapshotID: "snap-" + c,
		Branch:     "main",
		Timestamp:  time.Now(),
	}))

	ancestors, err := resolver.Ancestors(c)
	require.NoError(t, err)

	assert.Contains(t, ancestors, a)
	assert.Contains(t, ancestors, b)
	assert.Contains(t, ancestors, c, "ancestor set is inclusive of the start commit")
	assert.NotContains(t, ancestors, hexID("ee"), "missing parent row ends that branch of the walk")
}

func TestDetachedHEAD(t *testing.T) {
	refs, store, resolver := setupResolver(t)
	a, b := hexID("aa"), hexID("bb")
	chain(t, refs, store, a, b)
	require.NoError(t, refs.SetHEADDetached(a))

	head, err := refs.ReadHEAD()
	require.NoError(t, err)
	assert.True(t, head.Detached())

	id, err := resolver.Resolve("HEAD")
	require.NoError(t, err)
	assert.Equal(t, a, id)
}
