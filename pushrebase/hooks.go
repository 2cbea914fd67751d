package pushrebase

import "context"

// PrePushrebaseHook produces a CommitHook at the start of a pushrebase
// attempt, e.g. to load per-repo configuration once per attempt rather
// than once per commit.
type PrePushrebaseHook interface {
	Resolve(ctx context.Context) (CommitHook, error)
}

// CommitHook runs once per rebased commit.
type CommitHook interface {
	// PostRebaseChangeset is called after a commit's parents, dates, and
	// file changes have been rewritten but before it is frozen; it may
	// further edit new.
	PostRebaseChangeset(ctx context.Context, old BcsId, new *Mutable) error
	// IntoTransactionHook converts this commit hook's accumulated state
	// into a TransactionHook once every commit has been processed.
	IntoTransactionHook(ctx context.Context) (TransactionHook, error)
}

// TransactionHook runs inside the bookmark-move transaction.
type TransactionHook interface {
	PopulateTransaction(ctx context.Context) ([]TxStep, error)
}

// resolveHooks turns the configured PrePushrebaseHooks into per-attempt
// CommitHooks, per §4.8 step 1.
func resolveHooks(ctx context.Context, pre []PrePushrebaseHook) ([]CommitHook, error) {
	out := make([]CommitHook, 0, len(pre))
	for _, p := range pre {
		h, err := p.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
