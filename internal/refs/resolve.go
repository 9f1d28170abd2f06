// internal/refs/resolve.go
package refs

import (
	"fmt"
	"regexp"
	"strconv"

	"muse/internal/model"
	"muse/internal/storage"
	"muse/internal/vcserr"
)

var (
	tildeRe  = regexp.MustCompile(`^HEAD~(\d+)$`)
	hexRe    = regexp.MustCompile(`^[0-9a-f]+$`)
	fullIDRe = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Resolver translates human-facing ref strings into commit ids and
// answers ancestry questions against the metadata store.
type Resolver struct {
	refs  *Refs
	store storage.MetadataStore
}

func NewResolver(refs *Refs, store storage.MetadataStore) *Resolver {
	return &Resolver{refs: refs, store: store}
}

// Resolve accepts, in order of precedence: "HEAD"; "HEAD~N"; a branch
// name; a full 64-hex commit id; a hex prefix of at least 4 characters.
// A prefix matching more than one commit yields an AmbiguousRef error
// naming every candidate.
func (r *Resolver) Resolve(ref string) (string, error) {
	if ref == "" || ref == "HEAD" {
		id, err := r.refs.HeadCommit()
		if err != nil || id == "" {
			return "", vcserr.CommitNotFound("HEAD")
		}
		return id, nil
	}

	if m := tildeRe.FindStringSubmatch(ref); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return "", vcserr.CommitNotFound(ref)
		}
		return r.resolveTilde(ref, n)
	}

	if r.refs.BranchExists(ref) {
		id, err := r.refs.ReadBranch(ref)
		if err != nil || id == "" {
			return "", vcserr.CommitNotFound(ref)
		}
		return id, nil
	}

	if fullIDRe.MatchString(ref) {
		commit, err := r.store.GetCommit(ref)
		if err != nil {
			return "", fmt.Errorf("looking up commit %s: %w", ref, err)
		}
		if commit == nil {
			return "", vcserr.CommitNotFound(ref)
		}
		return commit.ID, nil
	}

	if len(ref) >= 4 && hexRe.MatchString(ref) {
		return r.resolvePrefix(ref)
	}

	return "", vcserr.CommitNotFound(ref)
}

// resolveTilde walks the primary parent exactly n times from HEAD.
// Merge second parents are not followed here; ancestor BFS is the only
// traversal that sees them.
func (r *Resolver) resolveTilde(ref string, n int) (string, error) {
	id, err := r.refs.HeadCommit()
	if err != nil || id == "" {
		return "", vcserr.CommitNotFound(ref)
	}

	for i := 0; i < n; i++ {
		commit, err := r.store.GetCommit(id)
		if err != nil {
			return "", fmt.Errorf("walking %s: %w", ref, err)
		}
		if commit == nil || commit.ParentID == "" {
			return "", vcserr.CommitNotFound(ref)
		}
		id = commit.ParentID
	}
	return id, nil
}

func (r *Resolver) resolvePrefix(prefix string) (string, error) {
	matches, err := r.store.FindCommitsByPrefix(prefix)
	if err != nil {
		return "", fmt.Errorf("searching commits by prefix %s: %w", prefix, err)
	}

	switch len(matches) {
	case 0:
		return "", vcserr.CommitNotFound(prefix)
	case 1:
		return matches[0].ID, nil
	}

	candidates := make([]string, len(matches))
	for i, c := range matches {
		candidates[i] = fmt.Sprintf("%s %q", shortID(c.ID), c.Message)
	}
	return "", vcserr.AmbiguousRef(prefix, candidates)
}

// Ancestors returns the ancestor set of a commit, inclusive of the
// commit itself, following both parents breadth-first. A parent with no
// stored row ends that branch of the walk instead of erroring, so the
// traversal terminates even on partially synced graphs.
func (r *Resolver) Ancestors(commitID string) (map[string]*model.Commit, error) {
	seen := make(map[string]*model.Commit)
	queue := []string{commitID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}

		commit, err := r.store.GetCommit(id)
		if err != nil {
			return nil, fmt.Errorf("loading ancestor %s: %w", id, err)
		}
		if commit == nil {
			continue
		}

		seen[id] = commit
		queue = append(queue, commit.ParentID, commit.Parent2ID)
	}

	return seen, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
