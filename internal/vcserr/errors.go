// internal/vcserr/errors.go
package vcserr

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindObjectMissing       Kind = "OBJECT_MISSING"
	KindPathNotInSnapshot   Kind = "PATH_NOT_IN_SNAPSHOT"
	KindCommitNotFound      Kind = "COMMIT_NOT_FOUND"
	KindAmbiguousRef        Kind = "AMBIGUOUS_REF"
	KindMergeInProgress     Kind = "MERGE_IN_PROGRESS"
	KindNoBisectSession     Kind = "NO_BISECT_SESSION"
	KindBisectAlreadyActive Kind = "BISECT_ALREADY_ACTIVE"
	KindInvalidVerdict      Kind = "INVALID_VERDICT"
	KindNotARepository      Kind = "NOT_A_REPOSITORY"
)

// Error is the typed domain error for the core engines. Callers branch
// on Kind with errors.As; the CLI boundary maps kinds to exit codes.
type Error struct {
	Kind       Kind
	ObjectID   string   // set for OBJECT_MISSING
	Path       string   // set for OBJECT_MISSING, PATH_NOT_IN_SNAPSHOT
	Ref        string   // set for COMMIT_NOT_FOUND, AMBIGUOUS_REF
	CommitID   string   // set for PATH_NOT_IN_SNAPSHOT
	Candidates []string // set for AMBIGUOUS_REF
	Verdict    string   // set for INVALID_VERDICT
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindObjectMissing:
		return fmt.Sprintf("object %s missing from store (needed for %s)", e.ObjectID, e.Path)
	case KindPathNotInSnapshot:
		return fmt.Sprintf("path %s not present in snapshot of commit %s", e.Path, e.CommitID)
	case KindCommitNotFound:
		return fmt.Sprintf("commit not found: %s", e.Ref)
	case KindAmbiguousRef:
		return fmt.Sprintf("ambiguous ref %s matches %d commits: %s",
			e.Ref, len(e.Candidates), strings.Join(e.Candidates, ", "))
	case KindMergeInProgress:
		return "merge in progress"
	case KindNoBisectSession:
		return "no bisect session active"
	case KindBisectAlreadyActive:
		return "bisect session already active"
	case KindInvalidVerdict:
		return fmt.Sprintf("invalid verdict: %s (expected good or bad)", e.Verdict)
	case KindNotARepository:
		return "not a muse repository"
	}
	return string(e.Kind)
}

func ObjectMissing(objectID, path string) *Error {
	return &Error{Kind: KindObjectMissing, ObjectID: objectID, Path: path}
}

func PathNotInSnapshot(path, commitID string) *Error {
	return &Error{Kind: KindPathNotInSnapshot, Path: path, CommitID: commitID}
}

func CommitNotFound(ref string) *Error {
	return &Error{Kind: KindCommitNotFound, Ref: ref}
}

func AmbiguousRef(prefix string, candidates []string) *Error {
	return &Error{Kind: KindAmbiguousRef, Ref: prefix, Candidates: candidates}
}

func MergeInProgress() *Error {
	return &Error{Kind: KindMergeInProgress}
}

func NoBisectSession() *Error {
	return &Error{Kind: KindNoBisectSession}
}

func BisectAlreadyActive() *Error {
	return &Error{Kind: KindBisectAlreadyActive}
}

func InvalidVerdict(value string) *Error {
	return &Error{Kind: KindInvalidVerdict, Verdict: value}
}

func NotARepository() *Error {
	return &Error{Kind: KindNotARepository}
}
