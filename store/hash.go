package store

import (
	"crypto/sha256"

	"github.com/scmforge/scmcore/lfs/pointerstore"
)

// contentHgId derives a 20-byte hg node id (Mercurial ids are truncated
// sha1-length identifiers; here content-addressed via sha256, truncated to
// the same 20 bytes) from a kind tag plus the entry's serialized fields.
func contentHgId(kind string, parts ...[]byte) pointerstore.HgId {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write(p)
	}
	var id pointerstore.HgId
	copy(id[:], h.Sum(nil))
	return id
}
