package pushrebase

import "context"

// Store is the changeset storage pushrebase reads from and writes to. A
// production implementation is store.ChangesetStore (SQL-backed); tests
// typically use an in-memory map.
type Store interface {
	Get(ctx context.Context, id BcsId) (*Changeset, error)
	Put(ctx context.Context, cs *Changeset) error
	// Generation returns the changeset's generation number (longest path
	// to a root + 1), used to pick the closest ancestor root.
	Generation(ctx context.Context, id BcsId) (int, error)
	// IsAncestor reports whether a is an ancestor of (or equal to) d.
	IsAncestor(ctx context.Context, a, d BcsId) (bool, error)
	// ChangedFiles returns the union of file paths touched by any
	// changeset strictly after `since` (exclusive) up to and including
	// `until`, walking first-parent history. Used for server_cf and
	// client_cf in the conflict check.
	ChangedFiles(ctx context.Context, since, until BcsId) ([]string, error)
	// CommitsBetween returns changesets in (since, until] in topological
	// (root-to-head) order, walking first-parent history.
	CommitsBetween(ctx context.Context, since, until BcsId) ([]*Changeset, error)
	// ManifestPaths returns every file path present in id's manifest,
	// for the diamond-merge "stale path" check.
	ManifestPaths(ctx context.Context, id BcsId) (map[string]bool, error)
	// FileAt returns the effective file state for path as of id's
	// manifest: nil if the path doesn't exist there, or a FileChange with
	// Deleted=true/false describing it. Used to adopt onto's content for
	// diamond-merge additional file changes.
	FileAt(ctx context.Context, id BcsId, path string) (*FileChange, error)
}

// TxStep runs inside the bookmark-move transaction; any error aborts the
// move. Used to let TransactionHook implementations add SQL work.
type TxStep func(ctx context.Context) error

// BookmarkStore is the transactional bookmark mover.
type BookmarkStore interface {
	// Get returns the bookmark's current target.
	Get(ctx context.Context, bookmark string) (BcsId, bool, error)
	// CompareAndSet atomically moves bookmark from old to new, running
	// extraSteps inside the same transaction. Returns false (no error) on
	// a CAS mismatch — the caller retries with a fresh read.
	CompareAndSet(ctx context.Context, bookmark string, old, new BcsId, extraSteps []TxStep) (bool, error)
}
