// internal/bisect/bisect.go
package bisect

import (
	"fmt"
	"os"
	"os/exec"
	"sort"

	"muse/internal/model"
	"muse/internal/refs"
	"muse/internal/storage"
	"muse/internal/vcserr"
	"muse/internal/worktree"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State names where a session stands.
type State string

const (
	StateNoSession      State = "no_session"
	StateAwaitingBounds State = "awaiting_bounds"
	StateSearching      State = "searching"
	StateDone           State = "done"
)

// StepResult reports the outcome of one mark.
type StepResult struct {
	State     State
	Current   string // commit to check out next, when searching
	Culprit   string // first bad commit, when done
	Remaining int    // candidate count still in range
	Awaiting  string // which bound is still unset, when awaiting
}

// RunResult summarizes an automated bisect run.
type RunResult struct {
	Culprit string
	Steps   int
}

// Engine binary-searches the ancestor range between a known-good and a
// known-bad commit for the first commit that introduced a regression.
type Engine struct {
	museDir  string
	refs     *refs.Refs
	resolver *refs.Resolver
	meta     storage.MetadataStore
	tree     *worktree.Engine
	logger   *zap.Logger
}

func NewEngine(museDir string, r *refs.Refs, resolver *refs.Resolver, meta storage.MetadataStore, tree *worktree.Engine, logger *zap.Logger) *Engine {
	return &Engine{
		museDir:  museDir,
		refs:     r,
		resolver: resolver,
		meta:     meta,
		tree:     tree,
		logger:   logger,
	}
}

// Start opens a new session, capturing the current HEAD so Reset can
// put it back. Refused while a merge is in progress or another session
// is active.
func (e *Engine) Start() error {
	if e.tree.MergeInProgress() {
		return vcserr.MergeInProgress()
	}
	if sessionExists(e.museDir) {
		return vcserr.BisectAlreadyActive()
	}

	head, err := e.refs.ReadHEAD()
	if err != nil {
		return err
	}
	commit, err := e.refs.HeadCommit()
	if err != nil {
		return err
	}

	session := &Session{
		SessionID:       uuid.NewString(),
		Tested:          make(map[string]model.Verdict),
		PreBisectRef:    head.Branch,
		PreBisectCommit: commit,
	}
	if err := saveSession(e.museDir, session); err != nil {
		return err
	}

	e.logger.Info("bisect started", zap.String("session", session.SessionID))
	return nil
}

// Mark records a verdict for a commit and advances the search. Until
// both bounds are set it reports which bound is still awaited; once the
// candidate range collapses to empty, the bad bound is the culprit.
func (e *Engine) Mark(ref string, verdict string) (*StepResult, error) {
	session := loadSession(e.museDir)
	if session == nil {
		return nil, vcserr.NoBisectSession()
	}

	v := model.Verdict(verdict)
	if v != model.VerdictGood && v != model.VerdictBad {
		return nil, vcserr.InvalidVerdict(verdict)
	}

	commitID, err := e.resolver.Resolve(ref)
	if err != nil {
		return nil, err
	}

	session.Tested[commitID] = v
	if v == model.VerdictGood {
		session.Good = commitID
	} else {
		session.Bad = commitID
	}

	result, err := e.advance(session)
	if err != nil {
		return nil, err
	}
	if err := saveSession(e.museDir, session); err != nil {
		return nil, err
	}
	return result, nil
}

// Status reports the session's current state without mutating it.
func (e *Engine) Status() (*Session, State, error) {
	session := loadSession(e.museDir)
	if session == nil {
		return nil, StateNoSession, nil
	}
	if session.Good == "" || session.Bad == "" {
		return session, StateAwaitingBounds, nil
	}

	candidates, err := e.candidates(session)
	if err != nil {
		return nil, StateNoSession, err
	}
	if len(candidates) == 0 {
		return session, StateDone, nil
	}
	return session, StateSearching, nil
}

// advance recomputes the candidate range and picks the next commit to
// test. Mutates session.Current.
func (e *Engine) advance(session *Session) (*StepResult, error) {
	if session.Good == "" {
		return &StepResult{State: StateAwaitingBounds, Awaiting: "good"}, nil
	}
	if session.Bad == "" {
		return &StepResult{State: StateAwaitingBounds, Awaiting: "bad"}, nil
	}

	candidates, err := e.candidates(session)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		session.Current = ""
		e.logger.Info("bisect done", zap.String("culprit", session.Bad[:8]))
		return &StepResult{State: StateDone, Culprit: session.Bad}, nil
	}

	// Lower-middle element for even-length lists. The tie-break
	// determines step count parity, so it stays fixed.
	mid := (len(candidates) - 1) / 2
	session.Current = candidates[mid].ID

	e.logger.Debug("bisect step",
		zap.Int("candidates", len(candidates)),
		zap.String("next", session.Current[:8]))
	return &StepResult{
		State:     StateSearching,
		Current:   session.Current,
		Remaining: len(candidates),
	}, nil
}

// candidates computes ancestors(bad) \ ancestors(good) \ {bad}, sorted
// oldest-first by commit timestamp. This is everything that could still
// be the culprit.
func (e *Engine) candidates(session *Session) ([]*model.Commit, error) {
	badAncestors, err := e.resolver.Ancestors(session.Bad)
	if err != nil {
		return nil, err
	}
	goodAncestors, err := e.resolver.Ancestors(session.Good)
	if err != nil {
		return nil, err
	}

	var candidates []*model.Commit
	for id, commit := range badAncestors {
		if id == session.Bad {
			continue
		}
		if _, ok := goodAncestors[id]; ok {
			continue
		}
		candidates = append(candidates, commit)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].Timestamp.Before(candidates[j].Timestamp)
	})
	return candidates, nil
}

// Run drives the search with verdicts from an external command: exit
// zero marks the checked-out candidate good, nonzero marks it bad. The
// step ceiling guarantees termination even when verdicts are
// inconsistent with any single culprit.
func (e *Engine) Run(command []string, maxSteps int) (*RunResult, error) {
	session := loadSession(e.museDir)
	if session == nil {
		return nil, vcserr.NoBisectSession()
	}
	if session.Good == "" || session.Bad == "" {
		return nil, fmt.Errorf("bisect run needs both good and bad bounds marked")
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("bisect run needs a command")
	}
	if maxSteps <= 0 {
		maxSteps = 32
	}

	result, err := e.advance(session)
	if err != nil {
		return nil, err
	}
	if err := saveSession(e.museDir, session); err != nil {
		return nil, err
	}

	steps := 0
	for result.State == StateSearching {
		if steps >= maxSteps {
			return nil, fmt.Errorf("bisect run hit the step ceiling (%d) without converging", maxSteps)
		}

		candidate := result.Current
		if err := e.tree.Checkout(candidate); err != nil {
			return nil, fmt.Errorf("checking out candidate %s: %w", candidate[:8], err)
		}

		verdict := model.VerdictGood
		if err := e.runCommand(command); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				return nil, fmt.Errorf("running bisect command: %w", err)
			}
			verdict = model.VerdictBad
		}
		e.logger.Info("bisect verdict",
			zap.String("commit", candidate[:8]),
			zap.String("verdict", string(verdict)))

		result, err = e.Mark(candidate, string(verdict))
		if err != nil {
			return nil, err
		}
		steps++
	}

	return &RunResult{Culprit: result.Culprit, Steps: steps}, nil
}

func (e *Engine) runCommand(command []string) error {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = e.treeRoot()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (e *Engine) treeRoot() string {
	return e.tree.TreeRoot()
}

// Reset restores the pre-bisect HEAD and working tree, best-effort (a
// missing snapshot is tolerated), then deletes the session. Calling it
// with no active session is a no-op.
func (e *Engine) Reset() error {
	session := loadSession(e.museDir)
	if session == nil {
		return removeSession(e.museDir)
	}

	if session.PreBisectCommit != "" {
		if err := e.tree.Checkout(session.PreBisectCommit); err != nil {
			e.logger.Warn("could not restore pre-bisect tree", zap.Error(err))
		}
	}
	if session.PreBisectRef != "" {
		if err := e.refs.SetHEADBranch(session.PreBisectRef); err != nil {
			return err
		}
	} else if session.PreBisectCommit != "" {
		if err := e.refs.SetHEADDetached(session.PreBisectCommit); err != nil {
			return err
		}
	}

	e.logger.Info("bisect reset", zap.String("session", session.SessionID))
	return removeSession(e.museDir)
}
