package pushrebase

import (
	"context"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/scmforge/scmcore/internal/errs"
	"github.com/scmforge/scmcore/internal/metrics"
)

// MaxRebaseAttempts bounds the compare-and-set retry loop (§4.8).
const MaxRebaseAttempts = 100

// Config mirrors the `pushrebase.*` configuration keys that affect engine
// behavior.
type Config struct {
	RecursionLimit             int
	CasefoldingCheck           bool
	ForbidP2RootRebases        bool
	RewriteDates               bool
	NotGeneratedFilenodesLimit int
}

// Request is one push attempt's input.
type Request struct {
	OntoBookmark string
	Pushed       []BcsId
	PreHooks     []PrePushrebaseHook
}

// RebasedPair is one original->rebased changeset id, with the timestamp
// the remapping recorded it at.
type RebasedPair struct {
	Old, New BcsId
	At       time.Time
}

// Outcome is the successful result of a pushrebase attempt.
type Outcome struct {
	Head              BcsId
	RetryNum          int
	Rebased           []RebasedPair
	PushrebaseDistance int
}

// Engine runs pushrebase attempts against a Store/BookmarkStore pair.
type Engine struct {
	Store     Store
	Bookmarks BookmarkStore
	Cfg       Config
	Meters    *metrics.Meters
}

// Run executes the full pushrebase protocol for req.
func (e *Engine) Run(ctx context.Context, req Request) (*Outcome, error) {
	if len(req.Pushed) == 0 {
		return nil, &errs.Programming{Msg: "pushrebase: empty pushed set"}
	}

	head, err := e.singleHead(ctx, req.Pushed)
	if err != nil {
		return nil, err
	}
	roots := e.roots(ctx, req.Pushed)

	root, err := e.closestAncestorRoot(ctx, roots, req.OntoBookmark)
	if err != nil {
		return nil, err
	}

	if e.Cfg.ForbidP2RootRebases {
		for _, id := range req.Pushed {
			cs, err := e.Store.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if len(cs.Parents) == 2 && cs.Parents[1] == root {
				return nil, &errs.P2RootRebaseForbidden{}
			}
		}
	}

	latestAttempt := root
	rebaseSet := make(map[BcsId]bool, len(req.Pushed))
	for _, id := range req.Pushed {
		rebaseSet[id] = true
	}

	for attempt := 0; attempt < MaxRebaseAttempts; attempt++ {
		if e.Meters != nil {
			e.Meters.PushrebaseAttempts.Inc()
		}
		hooks, err := resolveHooks(ctx, req.PreHooks)
		if err != nil {
			return nil, err
		}

		bookmarkVal, ok, err := e.Bookmarks.Get(ctx, req.OntoBookmark)
		if err != nil {
			return nil, err
		}
		if !ok {
			bookmarkVal = root
		}

		serverCommits, err := e.Store.CommitsBetween(ctx, latestAttempt, bookmarkVal)
		if err != nil {
			return nil, err
		}

		for _, sc := range serverCommits {
			if _, has := sc.Extra["failpushrebase"]; has {
				return nil, &errs.ForceFailPushrebase{}
			}
		}

		clientOrder, err := e.Store.CommitsBetween(ctx, e.nullParent(), head)
		if err != nil {
			return nil, err
		}
		clientOrder = filterInSet(clientOrder, rebaseSet)

		if e.Cfg.CasefoldingCheck {
			if conflictPath, found, err := e.casefoldingConflict(ctx, bookmarkVal, clientOrder); err != nil {
				return nil, err
			} else if found {
				return nil, &errs.PotentialCaseConflict{Path: conflictPath}
			}
		}

		if conflicts, err := e.conflictingPaths(ctx, latestAttempt, bookmarkVal, root, head); err != nil {
			return nil, err
		} else if len(conflicts) > 0 {
			if e.Meters != nil {
				e.Meters.PushrebaseConflicts.Inc()
			}
			return nil, &errs.Conflicts{Paths: conflicts}
		}

		newHead, remapping, err := e.createRebasedChangesets(ctx, root, bookmarkVal, clientOrder, rebaseSet, hooks)
		if err != nil {
			return nil, err
		}

		txSteps, err := collectTransactionSteps(ctx, hooks)
		if err != nil {
			return nil, err
		}

		moved, err := e.Bookmarks.CompareAndSet(ctx, req.OntoBookmark, bookmarkVal, newHead, txSteps)
		if err != nil {
			return nil, err
		}
		if moved {
			if e.Meters != nil {
				e.Meters.PushrebaseSuccesses.Inc()
			}
			pairs := make([]RebasedPair, 0, len(remapping))
			for old, r := range remapping {
				if old == root {
					continue // the {root: onto} seed is not a rebased commit
				}
				pairs = append(pairs, RebasedPair{Old: old, New: r.id, At: r.at})
			}
			return &Outcome{Head: newHead, RetryNum: attempt, Rebased: pairs, PushrebaseDistance: len(serverCommits)}, nil
		}
		if e.Meters != nil {
			e.Meters.BookmarkCASFailures.Inc()
		}
		latestAttempt = bookmarkVal
	}

	return nil, &errs.TooManyRebaseAttempts{Attempts: MaxRebaseAttempts}
}

func (e *Engine) nullParent() BcsId { return BcsId{} }

func filterInSet(cs []*Changeset, set map[BcsId]bool) []*Changeset {
	out := make([]*Changeset, 0, len(cs))
	for _, c := range cs {
		if set[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// singleHead finds the one member of pushed with no child within pushed;
// errors with TooManyHeads if there isn't exactly one.
func (e *Engine) singleHead(ctx context.Context, pushed []BcsId) (BcsId, error) {
	isParent := make(map[BcsId]bool)
	for _, id := range pushed {
		cs, err := e.Store.Get(ctx, id)
		if err != nil {
			return BcsId{}, err
		}
		for _, p := range cs.Parents {
			isParent[p] = true
		}
	}
	var heads []BcsId
	for _, id := range pushed {
		if !isParent[id] {
			heads = append(heads, id)
		}
	}
	if len(heads) != 1 {
		return BcsId{}, &errs.TooManyHeads{Heads: len(heads)}
	}
	return heads[0], nil
}

// roots returns the external (not-in-pushed) parent commits that the
// pushed set is grafted onto: for every pushed commit whose parents all
// lie outside pushed, those parents are candidate common-ancestor roots.
// closestAncestorRoot and the p2-root check below both expect `root` to be
// this kind of already-known-to-the-server commit, not a pushed one.
func (e *Engine) roots(ctx context.Context, pushed []BcsId) []BcsId {
	set := make(map[BcsId]bool, len(pushed))
	for _, id := range pushed {
		set[id] = true
	}
	var roots []BcsId
	seen := make(map[BcsId]bool)
	for _, id := range pushed {
		cs, err := e.Store.Get(ctx, id)
		if err != nil {
			continue
		}
		allOutside := len(cs.Parents) > 0
		for _, p := range cs.Parents {
			if set[p] {
				allOutside = false
				break
			}
		}
		if !allOutside {
			continue
		}
		for _, p := range cs.Parents {
			if !seen[p] {
				seen[p] = true
				roots = append(roots, p)
			}
		}
	}
	return roots
}

// closestAncestorRoot picks, among candidate roots, the one whose
// generation is highest among roots reachable from onto. The ancestry
// check is not bounded: RecursionLimit is not read here and
// RootTooFarBehind is never returned.
func (e *Engine) closestAncestorRoot(ctx context.Context, roots []BcsId, ontoBookmark string) (BcsId, error) {
	ontoVal, ok, err := e.Bookmarks.Get(ctx, ontoBookmark)
	if err != nil {
		return BcsId{}, err
	}
	if !ok {
		return BcsId{}, &errs.NoCommonRoot{}
	}

	var best BcsId
	bestGen := -1
	for _, r := range roots {
		isAnc, err := e.Store.IsAncestor(ctx, r, ontoVal)
		if err != nil {
			return BcsId{}, err
		}
		if !isAnc {
			continue
		}
		gen, err := e.Store.Generation(ctx, r)
		if err != nil {
			return BcsId{}, err
		}
		if gen > bestGen {
			bestGen = gen
			best = r
		}
	}
	if bestGen < 0 {
		return BcsId{}, &errs.NoCommonRoot{}
	}
	return best, nil
}

// casefoldingConflict starts from bookmarkVal's full manifest — every path
// present as of bookmarkVal, not just those touched by the commits since
// latestAttempt — then replays clientOrder (root-to-head) on
// top of it. A path deleted earlier in the pushed stack no longer counts
// as present for a later case-colliding add, per scenario 4 ("delete FILE
// before adding file" must succeed); the resulting live set is checked for
// a pair whose lowercase forms collide, per §4.8 step 5.
func (e *Engine) casefoldingConflict(ctx context.Context, bookmarkVal BcsId, clientOrder []*Changeset) (string, bool, error) {
	manifest, err := e.Store.ManifestPaths(ctx, bookmarkVal)
	if err != nil {
		return "", false, err
	}
	live := make(map[string]bool, len(manifest))
	for p := range manifest {
		live[p] = true
	}
	for _, cc := range clientOrder {
		for p, fc := range cc.FileChanges {
			if fc.Deleted {
				delete(live, p)
				continue
			}
			live[p] = true
		}
	}

	paths := make([]string, 0, len(live))
	for p := range live {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	seenLower := make(map[string]string, len(paths))
	for _, p := range paths {
		lower := strings.ToLower(p)
		if other, ok := seenLower[lower]; ok && other != p {
			return p, true, nil
		}
		seenLower[lower] = p
	}
	return "", false, nil
}

// conflictingPaths computes server_cf (changed files between latestAttempt
// and bookmarkVal, including copy sources) intersected with client_cf
// (changed files between root and head), flagging a conflict whenever one
// path is a prefix of the other (directory/file collisions included).
func (e *Engine) conflictingPaths(ctx context.Context, latestAttempt, bookmarkVal, root, head BcsId) ([]string, error) {
	serverPaths, err := e.Store.ChangedFiles(ctx, latestAttempt, bookmarkVal)
	if err != nil {
		return nil, err
	}
	clientPaths, err := e.Store.ChangedFiles(ctx, root, head)
	if err != nil {
		return nil, err
	}

	serverSet := mapset.NewSet(serverPaths...)
	clientSet := mapset.NewSet(clientPaths...)

	var conflicts []string
	seen := mapset.NewSet[string]()
	for _, sp := range serverSet.ToSlice() {
		for _, cp := range clientSet.ToSlice() {
			if pathConflicts(sp, cp) && !seen.Contains(sp) {
				conflicts = append(conflicts, sp)
				seen.Add(sp)
			}
		}
	}
	return conflicts, nil
}

func pathConflicts(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}
