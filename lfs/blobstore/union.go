package blobstore

import "github.com/scmforge/scmcore/content"

// Union composes backends per §4.1: "first store answers writes, both
// answer reads". Writer is typically the permanent Loose store; Reader is
// consulted only when Writer doesn't have the blob.
type Union struct {
	Writer Store
	Reader Store
}

// Get tries Writer first, then Reader.
func (u *Union) Get(h content.Hash, expectedSize uint64) ([]byte, bool, error) {
	b, ok, err := u.Writer.Get(h, expectedSize)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return b, true, nil
	}
	return u.Reader.Get(h, expectedSize)
}

// Contains is true if either backend has at least one chunk.
func (u *Union) Contains(h content.Hash) (bool, error) {
	ok, err := u.Writer.Contains(h)
	if err != nil || ok {
		return ok, err
	}
	return u.Reader.Contains(h)
}

// Add always writes through Writer.
func (u *Union) Add(h content.Hash, data []byte) error {
	return u.Writer.Add(h, data)
}

// Remove is loose-store-only in practice (§4.1 "remove: loose only,
// idempotent"); it is applied to Writer, matching callers that configure
// the permanent loose store as Writer.
func (u *Union) Remove(h content.Hash) error {
	return u.Writer.Remove(h)
}

var _ Store = (*Union)(nil)
