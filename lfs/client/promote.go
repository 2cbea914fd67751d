package client

import (
	"github.com/scmforge/scmcore/content"
	"github.com/scmforge/scmcore/lfs/blobstore"
	"github.com/scmforge/scmcore/lfs/pointerstore"
)

// Promoter moves a successfully-uploaded blob, and the pointers referencing
// it, from the per-client local stores into the shared stores, optionally
// freeing the local blob copy afterwards (the `lfs.moveafterupload`
// tunable).
//
// A repository typically keeps two blob stores: a small local one for
// blobs staged by this client before upload, and a large shared one other
// clones/processes also read from. Promotion after upload keeps the local
// store small without requiring every read to hit the shared store.
// LocalPointers/SharedPointers are optional: a Promoter with neither set
// only tiers the blob, matching the blob-only callers that predate pointer
// tiering.
type Promoter struct {
	Local           blobstore.Store
	Shared          blobstore.Store
	LocalPointers   *pointerstore.Store
	SharedPointers  *pointerstore.Store
	MoveAfterUpload bool
}

// Promote copies sha256 from Local to Shared (verifying it reads back
// intact from Local first), then, only once the blob is in Shared, copies
// every local pointer referencing sha256 into SharedPointers, and finally
// removes the blob from Local when MoveAfterUpload is set.
func (p *Promoter) Promote(sha256 content.Hash, size uint64) error {
	data, ok, err := p.Local.Get(sha256, size)
	if err != nil {
		return err
	}
	if !ok {
		return nil // nothing staged locally; already promoted or never landed
	}
	if err := p.Shared.Add(sha256, data); err != nil {
		return err
	}

	if p.LocalPointers != nil && p.SharedPointers != nil {
		for _, hgID := range p.LocalPointers.GetBySha256(sha256) {
			ptr, ok := p.LocalPointers.GetByHgID(hgID)
			if !ok {
				continue
			}
			if err := p.SharedPointers.Put(hgID, ptr); err != nil {
				return err
			}
		}
	}

	if p.MoveAfterUpload {
		return p.Local.Remove(sha256)
	}
	return nil
}
