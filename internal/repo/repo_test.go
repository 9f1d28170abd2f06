package repo

import (
	"os"
	"path/filepath"
	"testing"

	"muse/internal/manifest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) *Repo {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, Init(root))

	r, err := Open(root)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func writeWork(t *testing.T, r *Repo, path, content string) {
	t.Helper()
	dest := filepath.Join(r.Tree.Root(), filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0755))
	require.NoError(t, os.WriteFile(dest, []byte(content), 0644))
}

func TestInitLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root))

	head, err := os.ReadFile(filepath.Join(root, ".muse", "HEAD"))
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main\n", string(head))

	mainRef, err := os.ReadFile(filepath.Join(root, ".muse", "refs", "heads", "main"))
	require.NoError(t, err)
	assert.Equal(t, "\n", string(mainRef), "fresh branch ref is empty")

	for _, dir := range []string{".muse/objects", ".muse/db", "muse-work"} {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(dir)))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}

	assert.Error(t, Init(root), "double init must fail")
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root))
	nested := filepath.Join(root, "muse-work", "tracks")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := FindRoot(nested)
	require.NoError(t, err)
	// TempDir may sit behind a symlink; compare resolved paths.
	wantRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)

	_, err = FindRoot(t.TempDir())
	assert.True(t, IsNotRepository(err))
}

func TestCommitAndLog(t *testing.T) {
	r := setupRepo(t)

	writeWork(t, r, "tracks/drums.mid", "take 1")
	first, err := r.Commit("drums first pass")
	require.NoError(t, err)
	assert.Len(t, first.ID, 64)
	assert.Empty(t, first.ParentID)

	writeWork(t, r, "tracks/drums.mid", "take 2")
	second, err := r.Commit("tighter hats")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ParentID)

	log, err := r.Log()
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, second.ID, log[0].ID)
	assert.Equal(t, first.ID, log[1].ID)
}

func TestCommitStoresObjects(t *testing.T) {
	r := setupRepo(t)

	writeWork(t, r, "mix.wav", "rough mix bytes")
	commit, err := r.Commit("rough mix")
	require.NoError(t, err)

	files, id, err := r.ManifestAt(commit.ID)
	require.NoError(t, err)
	assert.Equal(t, commit.ID, id)
	require.Contains(t, files, "mix.wav")
	assert.True(t, r.Objects.Has(files["mix.wav"]))
}

func TestDiffWorkingTreeAgainstHead(t *testing.T) {
	r := setupRepo(t)

	writeWork(t, r, "a.mid", "v1")
	writeWork(t, r, "b.mid", "v1")
	_, err := r.Commit("base")
	require.NoError(t, err)

	writeWork(t, r, "a.mid", "v2")
	writeWork(t, r, "c.mid", "new")
	require.NoError(t, os.Remove(filepath.Join(r.Tree.Root(), "b.mid")))

	head, err := r.HeadManifest()
	require.NoError(t, err)
	current, err := r.Tree.Scan()
	require.NoError(t, err)

	d := manifest.Diff(head, current)
	assert.Equal(t, []string{"a.mid"}, d.Changed)
	assert.Equal(t, []string{"c.mid"}, d.Added)
	assert.Equal(t, []string{"b.mid"}, d.Removed)
}

func TestBranchAndCheckout(t *testing.T) {
	r := setupRepo(t)

	writeWork(t, r, "song.mid", "verse only")
	base, err := r.Commit("verse")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch("chorus-idea", ""))
	require.NoError(t, r.Checkout("chorus-idea"))

	writeWork(t, r, "song.mid", "verse and chorus")
	_, err = r.Commit("chorus sketch")
	require.NoError(t, err)

	// Back to main: tree returns to the verse-only take.
	require.NoError(t, r.Checkout("main"))
	content, err := os.ReadFile(filepath.Join(r.Tree.Root(), "song.mid"))
	require.NoError(t, err)
	assert.Equal(t, "verse only", string(content))

	mainTip, err := r.Refs.ReadBranch("main")
	require.NoError(t, err)
	assert.Equal(t, base.ID, mainTip)
}

func TestCommitOnDetachedHeadFails(t *testing.T) {
	r := setupRepo(t)

	writeWork(t, r, "one.mid", "v1")
	c, err := r.Commit("first")
	require.NoError(t, err)

	require.NoError(t, r.Checkout(c.ID[:8]))
	_, err = r.Commit("should fail")
	assert.Error(t, err)
}

func TestResolveShortID(t *testing.T) {
	r := setupRepo(t)

	writeWork(t, r, "one.mid", "v1")
	c, err := r.Commit("first")
	require.NoError(t, err)

	id, err := r.Resolver.Resolve(c.ID[:6])
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)
}
