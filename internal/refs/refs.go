// internal/refs/refs.go
package refs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	headFile   = "HEAD"
	headsDir   = "refs/heads"
	branchPath = "refs/heads/%s"
)

// Refs reads and writes the HEAD file and branch ref files under the
// repository metadata directory. These are the only mutable records in
// the data model.
type Refs struct {
	museDir string
}

func New(museDir string) *Refs {
	return &Refs{museDir: museDir}
}

// HEAD describes the current HEAD: either attached to a branch or
// detached at a commit.
type HEAD struct {
	Branch   string // empty when detached
	CommitID string // set when detached
}

func (h HEAD) Detached() bool {
	return h.Branch == ""
}

// ReadHEAD parses the HEAD file. An attached HEAD holds a branch ref
// path ("refs/heads/<branch>"); a detached HEAD holds a bare commit id.
func (r *Refs) ReadHEAD() (HEAD, error) {
	data, err := os.ReadFile(filepath.Join(r.museDir, headFile))
	if err != nil {
		return HEAD{}, fmt.Errorf("reading HEAD: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if rest, ok := strings.CutPrefix(content, headsDir+"/"); ok {
		return HEAD{Branch: rest}, nil
	}
	return HEAD{CommitID: content}, nil
}

// SetHEADBranch attaches HEAD to a branch.
func (r *Refs) SetHEADBranch(branch string) error {
	content := fmt.Sprintf("%s/%s\n", headsDir, branch)
	if err := os.WriteFile(filepath.Join(r.museDir, headFile), []byte(content), 0644); err != nil {
		return fmt.Errorf("writing HEAD: %w", err)
	}
	return nil
}

// SetHEADDetached points HEAD directly at a commit.
func (r *Refs) SetHEADDetached(commitID string) error {
	if err := os.WriteFile(filepath.Join(r.museDir, headFile), []byte(commitID+"\n"), 0644); err != nil {
		return fmt.Errorf("writing HEAD: %w", err)
	}
	return nil
}

// ReadBranch returns the commit id a branch points at. An empty string
// means the branch exists but has no commits yet.
func (r *Refs) ReadBranch(branch string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.museDir, fmt.Sprintf(branchPath, branch)))
	if err != nil {
		return "", fmt.Errorf("reading branch %s: %w", branch, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetBranch points a branch at a commit, creating the ref file if it
// does not exist yet.
func (r *Refs) SetBranch(branch, commitID string) error {
	path := filepath.Join(r.museDir, fmt.Sprintf(branchPath, branch))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating refs directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(commitID+"\n"), 0644); err != nil {
		return fmt.Errorf("writing branch %s: %w", branch, err)
	}
	return nil
}

// BranchExists reports whether a ref file exists for the branch.
func (r *Refs) BranchExists(branch string) bool {
	_, err := os.Stat(filepath.Join(r.museDir, fmt.Sprintf(branchPath, branch)))
	return err == nil
}

// ListBranches returns every branch name, sorted by the directory walk.
func (r *Refs) ListBranches() ([]string, error) {
	dir := filepath.Join(r.museDir, headsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing branches: %w", err)
	}

	var branches []string
	for _, entry := range entries {
		if !entry.IsDir() {
			branches = append(branches, entry.Name())
		}
	}
	return branches, nil
}

// HeadCommit resolves HEAD to a commit id: the current branch's latest
// commit, or the pinned commit when detached. Returns "" when the
// branch has no commits.
func (r *Refs) HeadCommit() (string, error) {
	head, err := r.ReadHEAD()
	if err != nil {
		return "", err
	}
	if head.Detached() {
		return head.CommitID, nil
	}
	return r.ReadBranch(head.Branch)
}
