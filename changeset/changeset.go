package changeset

import (
	"context"
	"time"

	"github.com/scmforge/scmcore/internal/errs"
	"github.com/scmforge/scmcore/lfs/pointerstore"
	"github.com/scmforge/scmcore/pushrebase"
)

// BonsaiHgMapping persists the bonsai<->hg changeset id correspondence.
type BonsaiHgMapping interface {
	Get(ctx context.Context, repoID int32, bcs pushrebase.BcsId) (pointerstore.HgId, bool, error)
	Put(ctx context.Context, repoID int32, bcs pushrebase.BcsId, hgID pointerstore.HgId) error
}

// ManifestStore persists built manifests, content-addressed by their own
// hg id.
type ManifestStore interface {
	Get(ctx context.Context, id pointerstore.HgId) (Manifest, error)
	Put(ctx context.Context, m Manifest) (pointerstore.HgId, error)
}

// HgChangeset is the Mercurial changeset content built in §4.9 step 6.
type HgChangeset struct {
	Parents  []pointerstore.HgId
	Manifest pointerstore.HgId
	Author   string
	Date     time.Time
	Extra    map[string]string
	Message  string
	Files    []string
}

// HgChangesetStore persists hg changesets.
type HgChangesetStore interface {
	Get(ctx context.Context, id pointerstore.HgId) (*HgChangeset, error)
	Put(ctx context.Context, cs *HgChangeset) (pointerstore.HgId, error)
}

// Deps wires everything EnsureHgID needs for one repo.
type Deps struct {
	RepoID            int32
	Bonsai            pushrebase.Store
	Mapping           BonsaiHgMapping
	Manifests         ManifestStore
	FileNodes         FileNodeStore
	Changesets        HgChangesetStore
	Leases            *LeaseManager
	CheckCaseConflict bool
}

// EnsureHgID derives (deriving parents first, via an explicit stack rather
// than recursion) the hg changeset id for target, returning it directly if
// already mapped. Implements §4.9 in full.
func (d *Deps) EnsureHgID(ctx context.Context, target pushrebase.BcsId) (pointerstore.HgId, error) {
	if hgID, ok, err := d.Mapping.Get(ctx, d.RepoID, target); err != nil {
		return pointerstore.HgId{}, err
	} else if ok {
		return hgID, nil
	}

	order, err := d.topoOrder(ctx, target)
	if err != nil {
		return pointerstore.HgId{}, err
	}

	var result pointerstore.HgId
	for _, id := range order {
		hgID, err := d.deriveOne(ctx, id)
		if err != nil {
			return pointerstore.HgId{}, err
		}
		result = hgID
	}
	return result, nil
}

type stackFrame struct {
	id         pushrebase.BcsId
	cs         *pushrebase.Changeset
	nextParent int
}

// topoOrder returns the ancestors-of-target (inclusive) that still need
// hg-id derivation, in dependency order (each entry's parents, if they
// needed deriving, appear before it). Walked with an explicit stack so
// derivation depth never grows the Go call stack.
func (d *Deps) topoOrder(ctx context.Context, target pushrebase.BcsId) ([]pushrebase.BcsId, error) {
	done := make(map[pushrebase.BcsId]bool)
	var order []pushrebase.BcsId

	root, err := d.Bonsai.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	stack := []*stackFrame{{id: target, cs: root}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if top.nextParent < len(top.cs.Parents) {
			p := top.cs.Parents[top.nextParent]
			top.nextParent++

			if done[p] {
				continue
			}
			if _, ok, err := d.Mapping.Get(ctx, d.RepoID, p); err != nil {
				return nil, err
			} else if ok {
				done[p] = true
				continue
			}
			pcs, err := d.Bonsai.Get(ctx, p)
			if err != nil {
				return nil, err
			}
			stack = append(stack, &stackFrame{id: p, cs: pcs})
			continue
		}

		order = append(order, top.id)
		done[top.id] = true
		stack = stack[:len(stack)-1]
	}
	return order, nil
}

// deriveOne implements §4.9 steps 1 and 3-7 for a single bonsai changeset
// whose parents are already mapped.
func (d *Deps) deriveOne(ctx context.Context, id pushrebase.BcsId) (pointerstore.HgId, error) {
	if hgID, ok, err := d.Mapping.Get(ctx, d.RepoID, id); err != nil {
		return pointerstore.HgId{}, err
	} else if ok {
		return hgID, nil
	}

	release, err := d.Leases.Acquire(ctx, LeaseKey{RepoID: d.RepoID, Bcs: id})
	if err != nil {
		return pointerstore.HgId{}, err
	}
	defer release()

	// Re-check: another derivation may have landed this bcs while we waited
	// for the lease.
	if hgID, ok, err := d.Mapping.Get(ctx, d.RepoID, id); err != nil {
		return pointerstore.HgId{}, err
	} else if ok {
		return hgID, nil
	}

	bcs, err := d.Bonsai.Get(ctx, id)
	if err != nil {
		return pointerstore.HgId{}, err
	}

	parentHgIDs := make([]pointerstore.HgId, len(bcs.Parents))
	parentManifests := make([]Manifest, 0, len(bcs.Parents))
	for i, p := range bcs.Parents {
		phg, ok, err := d.Mapping.Get(ctx, d.RepoID, p)
		if err != nil {
			return pointerstore.HgId{}, err
		}
		if !ok {
			return pointerstore.HgId{}, &errs.Programming{Msg: "changeset: parent " + p.String() + " not yet derived"}
		}
		parentHgIDs[i] = phg

		parentHgCS, err := d.Changesets.Get(ctx, phg)
		if err != nil {
			return pointerstore.HgId{}, err
		}
		pm, err := d.Manifests.Get(ctx, parentHgCS.Manifest)
		if err != nil {
			return pointerstore.HgId{}, err
		}
		parentManifests = append(parentManifests, pm)
	}

	result, err := BuildManifest(parentManifests, bcs.FileChanges, d.FileNodes)
	if err != nil {
		return pointerstore.HgId{}, err
	}

	if d.CheckCaseConflict {
		if path, other, found := CheckCaseConflicts(result); found {
			return pointerstore.HgId{}, &errs.PotentialCaseConflict{Path: path + " vs " + other}
		}
	}

	manifestID, err := d.Manifests.Put(ctx, result.Manifest)
	if err != nil {
		return pointerstore.HgId{}, err
	}

	hgCS := &HgChangeset{
		Parents:  parentHgIDs,
		Manifest: manifestID,
		Author:   bcs.Author,
		Date:     bcs.AuthorDate,
		Extra:    bcs.Extra,
		Message:  bcs.Message,
		Files:    result.ChangedPaths,
	}
	hgID, err := d.Changesets.Put(ctx, hgCS)
	if err != nil {
		return pointerstore.HgId{}, err
	}

	if err := d.Mapping.Put(ctx, d.RepoID, id, hgID); err != nil {
		return pointerstore.HgId{}, err
	}
	return hgID, nil
}
