package bisect

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"muse/internal/logging"
	"muse/internal/model"
	"muse/internal/object"
	"muse/internal/refs"
	"muse/internal/storage"
	"muse/internal/vcserr"
	"muse/internal/worktree"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	museDir string
	workDir string
	store   *storage.Store
	refs    *refs.Refs
	engine  *Engine
	clock   time.Time
}

func setupHarness(t *testing.T) *harness {
	t.Helper()

	root := t.TempDir()
	museDir := filepath.Join(root, ".muse")
	workDir := filepath.Join(root, "muse-work")
	require.NoError(t, os.MkdirAll(workDir, 0755))

	objects, err := object.New(object.Options{Root: filepath.Join(museDir, "objects")})
	require.NoError(t, err)

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewStore(db)
	r := refs.New(museDir)
	require.NoError(t, r.SetBranch("main", ""))
	require.NoError(t, r.SetHEADBranch("main"))

	logger := logging.Nop()
	tree := worktree.NewTree(workDir, objects, logger)
	resolver := refs.NewResolver(r, store)
	wtEngine := worktree.NewEngine(tree, r, resolver, store, museDir, logger)

	return &harness{
		museDir: museDir,
		workDir: workDir,
		store:   store,
		refs:    r,
		engine:  NewEngine(museDir, r, resolver, store, wtEngine, logger),
		clock:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func fullID(marker string) string {
	return marker + strings.Repeat("0", 64-len(marker))
}

// addCommit appends a commit to main with an empty snapshot row.
func (h *harness) addCommit(t *testing.T, id string, files model.Manifest) {
	t.Helper()

	parent, err := h.refs.ReadBranch("main")
	require.NoError(t, err)

	if files == nil {
		files = model.Manifest{}
	}
	snap := &model.Snapshot{ID: "snap-" + id, Files: files, CreatedAt: h.clock}
	require.NoError(t, h.store.CreateSnapshot(snap))

	h.clock = h.clock.Add(time.Minute)
	require.NoError(t, h.store.CreateCommit(&model.Commit{
		ID:         id,
		ParentID:   parent,
		SnapshotID: snap.ID,
		Branch:     "main",
		Message:    "take " + id[:4],
		Author:     "tester",
		Timestamp:  h.clock,
	}))
	require.NoError(t, h.refs.SetBranch("main", id))
}

// linearChain builds n commits and returns their ids, oldest first.
func (h *harness) linearChain(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fullID(fmt.Sprintf("%04x", i+1))
		h.addCommit(t, ids[i], nil)
	}
	return ids
}

func TestStartAndExclusion(t *testing.T) {
	h := setupHarness(t)
	h.linearChain(t, 2)

	require.NoError(t, h.engine.Start())

	err := h.engine.Start()
	var verr *vcserr.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, vcserr.KindBisectAlreadyActive, verr.Kind)
}

func TestStartRefusedDuringMerge(t *testing.T) {
	h := setupHarness(t)
	h.linearChain(t, 1)
	require.NoError(t, os.WriteFile(filepath.Join(h.museDir, "MERGE_STATE.json"), []byte("{}"), 0644))

	err := h.engine.Start()
	var verr *vcserr.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, vcserr.KindMergeInProgress, verr.Kind)
}

func TestMarkWithoutSession(t *testing.T) {
	h := setupHarness(t)
	h.linearChain(t, 1)

	_, err := h.engine.Mark("HEAD", "bad")
	var verr *vcserr.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, vcserr.KindNoBisectSession, verr.Kind)
}

func TestMarkInvalidVerdict(t *testing.T) {
	h := setupHarness(t)
	h.linearChain(t, 1)
	require.NoError(t, h.engine.Start())

	_, err := h.engine.Mark("HEAD", "meh")
	var verr *vcserr.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, vcserr.KindInvalidVerdict, verr.Kind)
	assert.Equal(t, "meh", verr.Verdict)
}

func TestMarkAwaitsOtherBound(t *testing.T) {
	h := setupHarness(t)
	ids := h.linearChain(t, 3)
	require.NoError(t, h.engine.Start())

	result, err := h.engine.Mark(ids[0], "good")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingBounds, result.State)
	assert.Equal(t, "bad", result.Awaiting)
}

func TestAdjacentBoundsImmediatelyDone(t *testing.T) {
	h := setupHarness(t)
	ids := h.linearChain(t, 2)
	require.NoError(t, h.engine.Start())

	_, err := h.engine.Mark(ids[0], "good")
	require.NoError(t, err)

	// bad is the direct child of good: zero candidates, culprit is bad.
	result, err := h.engine.Mark(ids[1], "bad")
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, ids[1], result.Culprit)
}

func TestMidpointScenario(t *testing.T) {
	// good=A, inner [B, C, D], bad=E. Midpoint of 3 candidates is
	// index (3-1)/2 = 1, which is C.
	h := setupHarness(t)
	ids := h.linearChain(t, 5)
	a, b, c, e := ids[0], ids[1], ids[2], ids[4]
	require.NoError(t, h.engine.Start())

	_, err := h.engine.Mark(a, "good")
	require.NoError(t, err)

	result, err := h.engine.Mark(e, "bad")
	require.NoError(t, err)
	assert.Equal(t, StateSearching, result.State)
	assert.Equal(t, 3, result.Remaining)
	assert.Equal(t, c, result.Current)

	// C bad narrows the range to [B].
	result, err = h.engine.Mark(c, "bad")
	require.NoError(t, err)
	assert.Equal(t, StateSearching, result.State)
	assert.Equal(t, b, result.Current)

	// B good leaves nothing: C is the culprit.
	result, err = h.engine.Mark(b, "good")
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, c, result.Culprit)
}

func TestConvergesWithinLogSteps(t *testing.T) {
	const n = 20 // candidate count between the bounds

	for culpritIdx := 1; culpritIdx <= n; culpritIdx++ {
		h := setupHarness(t)
		ids := h.linearChain(t, n+2) // good, n candidates, bad
		require.NoError(t, h.engine.Start())

		_, err := h.engine.Mark(ids[0], "good")
		require.NoError(t, err)
		result, err := h.engine.Mark(ids[n+1], "bad")
		require.NoError(t, err)

		budget := int(math.Ceil(math.Log2(float64(n + 1))))
		steps := 0
		for result.State == StateSearching {
			require.LessOrEqual(t, steps, budget, "culprit %d exceeded step budget", culpritIdx)

			// Answer according to the known culprit position.
			verdict := "bad"
			for i := 1; i < culpritIdx; i++ {
				if ids[i] == result.Current {
					verdict = "good"
				}
			}
			result, err = h.engine.Mark(result.Current, verdict)
			require.NoError(t, err)
			steps++
		}

		assert.Equal(t, ids[culpritIdx], result.Culprit, "culprit position %d", culpritIdx)
		assert.LessOrEqual(t, steps, budget)
	}
}

func TestSessionSurvivesReload(t *testing.T) {
	h := setupHarness(t)
	ids := h.linearChain(t, 5)
	require.NoError(t, h.engine.Start())

	_, err := h.engine.Mark(ids[0], "good")
	require.NoError(t, err)
	_, err = h.engine.Mark(ids[4], "bad")
	require.NoError(t, err)

	// A fresh engine over the same directory sees the same session.
	session, state, err := h.engine.Status()
	require.NoError(t, err)
	assert.Equal(t, StateSearching, state)
	assert.Equal(t, ids[0], session.Good)
	assert.Equal(t, ids[4], session.Bad)
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, 1, session.SchemaVersion)
}

func TestCorruptSessionDegradesToNoSession(t *testing.T) {
	h := setupHarness(t)
	h.linearChain(t, 1)

	require.NoError(t, os.WriteFile(filepath.Join(h.museDir, "BISECT_STATE.json"), []byte("{not json"), 0644))

	_, state, err := h.engine.Status()
	require.NoError(t, err)
	assert.Equal(t, StateNoSession, state)
}

func TestDoneDoesNotDeleteSession(t *testing.T) {
	h := setupHarness(t)
	ids := h.linearChain(t, 2)
	require.NoError(t, h.engine.Start())

	_, err := h.engine.Mark(ids[0], "good")
	require.NoError(t, err)
	result, err := h.engine.Mark(ids[1], "bad")
	require.NoError(t, err)
	require.Equal(t, StateDone, result.State)

	// Only an explicit reset clears the state file.
	_, err = os.Stat(filepath.Join(h.museDir, "BISECT_STATE.json"))
	assert.NoError(t, err)
}

func TestResetRestoresPreBisectRefAndClearsSession(t *testing.T) {
	h := setupHarness(t)
	ids := h.linearChain(t, 3)
	require.NoError(t, h.engine.Start())

	_, err := h.engine.Mark(ids[0], "good")
	require.NoError(t, err)
	_, err = h.engine.Mark(ids[2], "bad")
	require.NoError(t, err)

	require.NoError(t, h.engine.Reset())

	head, err := h.refs.ReadHEAD()
	require.NoError(t, err)
	assert.Equal(t, "main", head.Branch)

	_, state, err := h.engine.Status()
	require.NoError(t, err)
	assert.Equal(t, StateNoSession, state)

	// Reset with no session is a no-op, not an error.
	assert.NoError(t, h.engine.Reset())
}

func TestRunConvergesOnCulprit(t *testing.T) {
	h := setupHarness(t)

	// Six commits; the regression lands in the fourth: from there on the
	// tree contains regression.flag.
	var ids []string
	for i := 1; i <= 6; i++ {
		files := model.Manifest{}
		content := []byte(fmt.Sprintf("mix take %d", i))
		id := object.HashBytes(content)
		// The snapshot needs real objects for checkout during the run.
		h.writeObject(t, content)
		files["mix.wav"] = id

		if i >= 4 {
			flag := []byte("regressed")
			h.writeObject(t, flag)
			files["regression.flag"] = object.HashBytes(flag)
		}

		cid := fullID(fmt.Sprintf("%04x", i))
		h.addCommit(t, cid, files)
		ids = append(ids, cid)
	}

	require.NoError(t, h.engine.Start())
	_, err := h.engine.Mark(ids[0], "good")
	require.NoError(t, err)
	_, err = h.engine.Mark(ids[5], "bad")
	require.NoError(t, err)

	result, err := h.engine.Run([]string{"sh", "-c", "test ! -f regression.flag"}, 10)
	require.NoError(t, err)
	assert.Equal(t, ids[3], result.Culprit)
	assert.LessOrEqual(t, result.Steps, 3) // ceil(log2(4+1))
}

func TestRunRequiresBothBounds(t *testing.T) {
	h := setupHarness(t)
	ids := h.linearChain(t, 3)
	require.NoError(t, h.engine.Start())
	_, err := h.engine.Mark(ids[0], "good")
	require.NoError(t, err)

	_, err = h.engine.Run([]string{"true"}, 5)
	assert.Error(t, err)
}

func (h *harness) writeObject(t *testing.T, content []byte) {
	t.Helper()
	objects, err := object.New(object.Options{Root: filepath.Join(h.museDir, "objects")})
	require.NoError(t, err)
	_, _, err = objects.Write(content)
	require.NoError(t, err)
}
