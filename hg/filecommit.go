package hg

import "github.com/scmforge/scmcore/lfs/pointerstore"

// FileNodeParents is the filecommit parent-election result (C9 step 3b):
// zero, one, or two surviving filenode parents for a new file revision.
type FileNodeParents struct {
	P1, P2 *pointerstore.HgId
}

// AncestryChecker reports whether a is an ancestor of (or equal to) d,
// within the filenode history of one path.
type AncestryChecker func(a, d pointerstore.HgId) bool

// ElectFileNodeParents implements the filecommit rules:
//   - a copy whose source path differs from the target path discards p1
//     (the copy-source parent wins) only when p1 is present and p2 is not;
//     with both parents present it falls through to the ancestry check.
//   - a missing p1 promotes p2 into its place.
//   - with both present, ancestry decides: keep the descendant if one is
//     an ancestor of the other, otherwise keep both.
func ElectFileNodeParents(p1, p2 *pointerstore.HgId, copiedFromDifferentPath bool, isAncestor AncestryChecker) FileNodeParents {
	if copiedFromDifferentPath && p1 != nil && p2 == nil {
		return FileNodeParents{P1: p2}
	}
	if p1 == nil {
		return FileNodeParents{P1: p2}
	}
	if p2 == nil {
		return FileNodeParents{P1: p1}
	}
	switch {
	case isAncestor(*p1, *p2):
		return FileNodeParents{P1: p2}
	case isAncestor(*p2, *p1):
		return FileNodeParents{P1: p1}
	default:
		return FileNodeParents{P1: p1, P2: p2}
	}
}
