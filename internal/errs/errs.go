// Package errs defines the error kinds surfaced from the core, per the
// error handling design: names are contracts, not concrete wire types.
package errs

import "fmt"

// NotFound covers a missing vertex, id, or content.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string { return fmt.Sprintf("not found: %s %s", e.Kind, e.ID) }

// IntegrityError is a hash mismatch on read or write.
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error: expected %s, got %s", e.Expected, e.Actual)
}

// Programming signals a precondition violated by the caller. Never caught
// internally; it is a bug in the code that produced it.
type Programming struct {
	Msg string
}

func (e *Programming) Error() string { return "programming error: " + e.Msg }

// NeedSlowPath means the pull/clone fast path was declined because local
// state overlaps with the server's pushed vertexes.
type NeedSlowPath struct {
	Msg string
}

func (e *NeedSlowPath) Error() string { return "need slow path: " + e.Msg }

// TooManyHeads is PushrebaseTooManyHeads: the pushed set has more than one head.
type TooManyHeads struct {
	Heads int
}

func (e *TooManyHeads) Error() string {
	return fmt.Sprintf("pushrebase: too many heads in pushed set: %d", e.Heads)
}

// NoCommonRoot is PushrebaseNoCommonRoot.
type NoCommonRoot struct{}

func (e *NoCommonRoot) Error() string { return "pushrebase: no common root with onto bookmark" }

// RootTooFarBehind bounds the BFS root search by recursion_limit.
type RootTooFarBehind struct {
	Limit int
}

func (e *RootTooFarBehind) Error() string {
	return fmt.Sprintf("pushrebase: root search exceeded recursion_limit=%d", e.Limit)
}

// P2RootRebaseForbidden is raised when forbid_p2_root_rebases is set and the
// chosen root is p2 of some commit in the pushed set.
type P2RootRebaseForbidden struct{}

func (e *P2RootRebaseForbidden) Error() string { return "pushrebase: rebase over p2 root forbidden" }

// ForceFailPushrebase is raised when a server commit in range carries the
// "failpushrebase" extra.
type ForceFailPushrebase struct{}

func (e *ForceFailPushrebase) Error() string { return "pushrebase: forced failure via failpushrebase extra" }

// Conflicts lists the conflicting file paths between server and client changes.
type Conflicts struct {
	Paths []string
}

func (e *Conflicts) Error() string {
	return fmt.Sprintf("pushrebase: conflicts on %d path(s)", len(e.Paths))
}

// PotentialCaseConflict names the offending path.
type PotentialCaseConflict struct {
	Path string
}

func (e *PotentialCaseConflict) Error() string {
	return "pushrebase: potential case conflict on " + e.Path
}

// RebaseOverMerge is raised when the rebase would have to rewrite a merge
// commit's non-rebased parent.
type RebaseOverMerge struct{}

func (e *RebaseOverMerge) Error() string { return "pushrebase: rebase over merge" }

// ValidationError wraps a failure deriving the Mercurial changeset from a
// rebased bonsai changeset.
type ValidationError struct {
	Source string
	Rebased string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pushrebase: validation of %s (from %s) failed: %v", e.Rebased, e.Source, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewFileChangesConflict is raised when a diamond-merge additional file
// change collides with an existing change on the same commit.
type NewFileChangesConflict struct {
	ID string
}

func (e *NewFileChangesConflict) Error() string {
	return "pushrebase: additional file changes conflict on " + e.ID
}

// TooManyRebaseAttempts is raised when the MAX_REBASE_ATTEMPTS loop is exhausted.
type TooManyRebaseAttempts struct {
	Attempts int
}

func (e *TooManyRebaseAttempts) Error() string {
	return fmt.Sprintf("pushrebase: exhausted %d attempts", e.Attempts)
}

// TransportCategory classifies a transport-level failure.
type TransportCategory int

const (
	CategoryTimeout TransportCategory = iota
	CategoryChunkTimeout
	CategoryEndOfStream
	CategoryHTTPStatus
	CategoryTLS
	CategoryOther
)

func (c TransportCategory) String() string {
	switch c {
	case CategoryTimeout:
		return "Timeout"
	case CategoryChunkTimeout:
		return "ChunkTimeout"
	case CategoryEndOfStream:
		return "EndOfStream"
	case CategoryHTTPStatus:
		return "HttpStatus"
	case CategoryTLS:
		return "Tls"
	default:
		return "Other"
	}
}

// Transport is the transport-level error envelope (§7).
type Transport struct {
	Category TransportCategory
	Status   int // only meaningful when Category == CategoryHTTPStatus
	Inner    error
}

func (e *Transport) Error() string {
	if e.Category == CategoryHTTPStatus {
		return fmt.Sprintf("transport error: http status %d: %v", e.Status, e.Inner)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Category, e.Inner)
}

func (e *Transport) Unwrap() error { return e.Inner }

// RateLimited is surfaced when a request would exceed a configured
// per-session rate.
type RateLimited struct{}

func (e *RateLimited) Error() string { return "rate limited" }
