package pushrebase

import (
	"context"
	"time"

	"github.com/scmforge/scmcore/internal/errs"
)

// remapEntry records where an original commit landed and when, for the
// eventual RebasedPair list.
type remapEntry struct {
	id BcsId
	at time.Time
}

// createRebasedChangesets walks clientOrder (root-to-head, already
// filtered to the pushed set) and rewrites each commit's parent(s) onto
// the remapped lineage, seeding the remapping at {root: (onto, now)} per
// §4.8 step 6. Merge commits whose non-rebased parent is outside the
// rebase set get diamond-merge additional file changes folded in.
func (e *Engine) createRebasedChangesets(
	ctx context.Context,
	root, onto BcsId,
	clientOrder []*Changeset,
	rebaseSet map[BcsId]bool,
	hooks []CommitHook,
) (BcsId, map[BcsId]remapEntry, error) {
	remapping := map[BcsId]remapEntry{
		root: {id: onto, at: nowStamp()},
	}

	var newHead BcsId
	for _, cs := range clientOrder {
		mut, err := e.rewriteOne(ctx, cs, remapping, rebaseSet, root, onto)
		if err != nil {
			return BcsId{}, nil, err
		}

		for _, h := range hooks {
			if err := h.PostRebaseChangeset(ctx, cs.ID, mut); err != nil {
				return BcsId{}, nil, err
			}
		}

		newID, err := e.freeze(ctx, mut)
		if err != nil {
			return BcsId{}, nil, err
		}
		remapping[cs.ID] = remapEntry{id: newID, at: mut.AuthorDate}
		newHead = newID
	}
	return newHead, remapping, nil
}

// rewriteOne builds the Mutable for a single commit: parents remapped
// through the lineage built so far, mutation-marker extras stripped, and
// (for merges) diamond-merge additional file changes folded in.
func (e *Engine) rewriteOne(
	ctx context.Context,
	cs *Changeset,
	remapping map[BcsId]remapEntry,
	rebaseSet map[BcsId]bool,
	root, onto BcsId,
) (*Mutable, error) {
	newParents := make([]BcsId, len(cs.Parents))
	for i, p := range cs.Parents {
		if r, ok := remapping[p]; ok {
			newParents[i] = r.id
		} else {
			newParents[i] = p
		}
	}

	fileChanges := make(map[string]*FileChange, len(cs.FileChanges))
	for path, fc := range cs.FileChanges {
		fcCopy := *fc
		if fc.CopyFrom != nil {
			cf := *fc.CopyFrom
			if r, ok := remapping[cf.FromID]; ok {
				cf.FromID = r.id
			}
			fcCopy.CopyFrom = &cf
		}
		fileChanges[path] = &fcCopy
	}

	if len(cs.Parents) == 2 {
		additional, err := diamondFileChanges(ctx, e.Store, root, onto, cs.Parents, rebaseSet)
		if err != nil {
			return nil, err
		}
		for path, fc := range additional {
			if existing, has := fileChanges[path]; has && existing.ContentID != fc.ContentID {
				return nil, &errs.NewFileChangesConflict{ID: cs.ID.String()}
			}
			fileChanges[path] = fc
		}
	}

	authorDate := cs.AuthorDate
	if e.Cfg.RewriteDates {
		authorDate = nowStamp()
	}

	return &Mutable{
		Parents:     newParents,
		Author:      cs.Author,
		AuthorDate:  authorDate,
		Message:     cs.Message,
		Extra:       stripMutationExtras(cs.Extra),
		FileChanges: fileChanges,
	}, nil
}

// freeze persists mut as a new immutable Changeset and returns its id.
func (e *Engine) freeze(ctx context.Context, mut *Mutable) (BcsId, error) {
	cs := &Changeset{
		Parents:     mut.Parents,
		Author:      mut.Author,
		AuthorDate:  mut.AuthorDate,
		Message:     mut.Message,
		Extra:       mut.Extra,
		FileChanges: mut.FileChanges,
	}
	cs.ID = bcsIDOf(cs)
	if err := e.Store.Put(ctx, cs); err != nil {
		return BcsId{}, err
	}
	return cs.ID, nil
}

// collectTransactionSteps converts every resolved CommitHook into its
// TransactionHook and flattens the resulting TxSteps for the bookmark CAS.
func collectTransactionSteps(ctx context.Context, hooks []CommitHook) ([]TxStep, error) {
	var steps []TxStep
	for _, h := range hooks {
		th, err := h.IntoTransactionHook(ctx)
		if err != nil {
			return nil, err
		}
		s, err := th.PopulateTransaction(ctx)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s...)
	}
	return steps, nil
}
